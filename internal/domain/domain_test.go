package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestSensorDataTypeJSONTagged(t *testing.T) {
	dt := IMUData(IMUParams{
		Acceleration:    Vec3{X: 0.1, Y: 0.2, Z: 9.81},
		AngularVelocity: Vec3{Z: 0.01},
		Orientation:     &Quaternion{W: 1},
	})

	raw, err := json.Marshal(dt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if string(probe["type"]) != `"imu"` {
		t.Fatalf("expected type tag imu, got %s", probe["type"])
	}

	var back SensorDataType
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Kind != KindIMU || back.IMU == nil || back.IMU.Acceleration.Z != 9.81 || back.IMU.Orientation == nil {
		t.Fatalf("unexpected decoded type: %+v", back)
	}
}

func TestSensorDataTypeUnknownKind(t *testing.T) {
	var dt SensorDataType
	err := json.Unmarshal([]byte(`{"type":"sonar","params":{}}`), &dt)
	if !errors.Is(err, ErrSerialization) {
		t.Fatalf("expected serialization error, got %v", err)
	}
}

func TestNewSensorReadingDefaultsAndClone(t *testing.T) {
	r := NewSensorReading("cam", 10, CameraData(CameraParams{Width: 2, Height: 2, Format: FormatGRAY8}), []byte{1, 2, 3, 4})
	if r.Quality != 1.0 {
		t.Fatalf("expected default quality 1.0, got %f", r.Quality)
	}
	r.Metadata["lane"] = "left"

	c := r.Clone()
	c.Payload[0] = 9
	c.Metadata["lane"] = "right"
	if r.Payload[0] != 1 || r.Metadata["lane"] != "left" {
		t.Fatalf("clone shares state with original")
	}
}

func TestReadingValidateQuality(t *testing.T) {
	r := NewSensorReading("x", 0, GenericData("x", 0), nil)
	r.Quality = 1.5
	if err := r.Validate(); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("expected invalid data, got %v", err)
	}
}

func TestChecksum(t *testing.T) {
	r := NewSensorReading("x", 0, GenericData("x", 3), []byte("abc")).WithChecksum()
	if !r.VerifyChecksum() {
		t.Fatalf("expected checksum to verify")
	}
	r.Payload = []byte("abd")
	if r.VerifyChecksum() {
		t.Fatalf("expected checksum mismatch after payload change")
	}
}

func TestDatasetNotFoundMatchesSensorNotFound(t *testing.T) {
	err := fmt.Errorf("%w: demo", ErrDatasetNotFound)
	if !errors.Is(err, ErrSensorNotFound) {
		t.Fatalf("dataset not found should satisfy sensor not found")
	}
	if !errors.Is(err, ErrDatasetNotFound) {
		t.Fatalf("dataset not found should match itself")
	}
}

func TestRetryableKinds(t *testing.T) {
	if !IsRetryable(fmt.Errorf("%w: dial", ErrConnection)) {
		t.Fatalf("connection errors are retryable")
	}
	if IsRetryable(fmt.Errorf("%w: bad", ErrConfiguration)) {
		t.Fatalf("configuration errors are not retryable")
	}
	if !IsConnectionError(ErrUnavailable) {
		t.Fatalf("unavailable is a connection error")
	}
}

func TestQueryValidate(t *testing.T) {
	if err := TimeRangeQuery(10, 5).Validate(); !errors.Is(err, ErrTimeRange) {
		t.Fatalf("expected time range error, got %v", err)
	}
	if err := TimeRangeQuery(0, 5).WithMinQuality(0.5).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
