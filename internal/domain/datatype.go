package domain

import (
	"encoding/json"
	"fmt"
)

// SensorKind names a sensor modality.
type SensorKind string

const (
	KindCamera     SensorKind = "camera"
	KindRadar      SensorKind = "radar"
	KindLidar      SensorKind = "lidar"
	KindUltrasonic SensorKind = "ultrasonic"
	KindIMU        SensorKind = "imu"
	KindGPS        SensorKind = "gps"
	KindCAN        SensorKind = "can"
	KindGeneric    SensorKind = "generic"
)

type ImageFormat string

const (
	FormatRGB24   ImageFormat = "RGB24"
	FormatBGR24   ImageFormat = "BGR24"
	FormatRGBA32  ImageFormat = "RGBA32"
	FormatYUV420P ImageFormat = "YUV420P"
	FormatNV12    ImageFormat = "NV12"
	FormatGRAY8   ImageFormat = "GRAY8"
	FormatJPEG    ImageFormat = "JPEG"
	FormatPNG     ImageFormat = "PNG"
	FormatH264    ImageFormat = "H264"
	FormatH265    ImageFormat = "H265"
)

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type CameraParams struct {
	Width  uint32      `json:"width"`
	Height uint32      `json:"height"`
	Format ImageFormat `json:"format"`
	FPS    *float64    `json:"fps,omitempty"`
}

type RadarResolution struct {
	RangeResolutionM       float64  `json:"range_resolution_m"`
	AzimuthResolutionDeg   float64  `json:"azimuth_resolution_deg"`
	ElevationResolutionDeg *float64 `json:"elevation_resolution_deg,omitempty"`
}

type RadarParams struct {
	PointCount uint32          `json:"point_count"`
	RangeM     float64         `json:"range_m"`
	Resolution RadarResolution `json:"resolution"`
}

type LidarParams struct {
	PointCount    uint32  `json:"point_count"`
	HorizontalFOV float64 `json:"horizontal_fov"`
	VerticalFOV   float64 `json:"vertical_fov"`
	RangeM        float64 `json:"range_m"`
}

type UltrasonicParams struct {
	DistanceM float64 `json:"distance_m"`
	ConeAngle float64 `json:"cone_angle"`
}

type IMUParams struct {
	Acceleration    Vec3        `json:"acceleration"`
	AngularVelocity Vec3        `json:"angular_velocity"`
	Orientation     *Quaternion `json:"orientation,omitempty"`
}

type GPSParams struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	AccuracyM float64 `json:"accuracy_m"`
}

type CANParams struct {
	MessageID  uint32 `json:"message_id"`
	DataLength uint8  `json:"data_length"`
}

type GenericParams struct {
	SensorType string `json:"sensor_type"`
	DataSize   int    `json:"data_size"`
}

// SensorDataType is a tagged union over the supported modalities. Exactly one
// params pointer matching Kind is set.
type SensorDataType struct {
	Kind       SensorKind
	Camera     *CameraParams
	Radar      *RadarParams
	Lidar      *LidarParams
	Ultrasonic *UltrasonicParams
	IMU        *IMUParams
	GPS        *GPSParams
	CAN        *CANParams
	Generic    *GenericParams
}

func CameraData(p CameraParams) SensorDataType {
	return SensorDataType{Kind: KindCamera, Camera: &p}
}

func RadarData(p RadarParams) SensorDataType {
	return SensorDataType{Kind: KindRadar, Radar: &p}
}

func LidarData(p LidarParams) SensorDataType {
	return SensorDataType{Kind: KindLidar, Lidar: &p}
}

func UltrasonicData(p UltrasonicParams) SensorDataType {
	return SensorDataType{Kind: KindUltrasonic, Ultrasonic: &p}
}

func IMUData(p IMUParams) SensorDataType {
	return SensorDataType{Kind: KindIMU, IMU: &p}
}

func GPSData(p GPSParams) SensorDataType {
	return SensorDataType{Kind: KindGPS, GPS: &p}
}

func CANData(p CANParams) SensorDataType {
	return SensorDataType{Kind: KindCAN, CAN: &p}
}

func GenericData(sensorType string, dataSize int) SensorDataType {
	return SensorDataType{Kind: KindGeneric, Generic: &GenericParams{SensorType: sensorType, DataSize: dataSize}}
}

func (d SensorDataType) params() any {
	switch d.Kind {
	case KindCamera:
		return d.Camera
	case KindRadar:
		return d.Radar
	case KindLidar:
		return d.Lidar
	case KindUltrasonic:
		return d.Ultrasonic
	case KindIMU:
		return d.IMU
	case KindGPS:
		return d.GPS
	case KindCAN:
		return d.CAN
	case KindGeneric:
		return d.Generic
	default:
		return nil
	}
}

type taggedDataType struct {
	Type   SensorKind      `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

func (d SensorDataType) MarshalJSON() ([]byte, error) {
	if d.Kind == "" {
		return []byte("null"), nil
	}
	params, err := json.Marshal(d.params())
	if err != nil {
		return nil, err
	}
	return json.Marshal(taggedDataType{Type: d.Kind, Params: params})
}

func (d *SensorDataType) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = SensorDataType{}
		return nil
	}
	var tagged taggedDataType
	if err := json.Unmarshal(b, &tagged); err != nil {
		return fmt.Errorf("%w: data type: %v", ErrSerialization, err)
	}

	out := SensorDataType{Kind: tagged.Type}
	var target any
	switch tagged.Type {
	case KindCamera:
		out.Camera = &CameraParams{}
		target = out.Camera
	case KindRadar:
		out.Radar = &RadarParams{}
		target = out.Radar
	case KindLidar:
		out.Lidar = &LidarParams{}
		target = out.Lidar
	case KindUltrasonic:
		out.Ultrasonic = &UltrasonicParams{}
		target = out.Ultrasonic
	case KindIMU:
		out.IMU = &IMUParams{}
		target = out.IMU
	case KindGPS:
		out.GPS = &GPSParams{}
		target = out.GPS
	case KindCAN:
		out.CAN = &CANParams{}
		target = out.CAN
	case KindGeneric:
		out.Generic = &GenericParams{}
		target = out.Generic
	default:
		return fmt.Errorf("%w: unknown sensor data type %q", ErrSerialization, tagged.Type)
	}
	if len(tagged.Params) > 0 && string(tagged.Params) != "null" {
		if err := json.Unmarshal(tagged.Params, target); err != nil {
			return fmt.Errorf("%w: %s params: %v", ErrSerialization, tagged.Type, err)
		}
	}
	*d = out
	return nil
}
