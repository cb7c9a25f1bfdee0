package ports

import (
	"fmt"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
)

// DatabaseFeatures describes what a backend can do. Callers check it before
// invoking optional operations.
type DatabaseFeatures struct {
	TimeSeries         bool     `json:"time_series"`
	Streaming          bool     `json:"streaming"`
	Transactions       bool     `json:"transactions"`
	Interpolation      bool     `json:"interpolation"`
	Downsampling       bool     `json:"downsampling"`
	Aggregation        bool     `json:"aggregation"`
	GapDetection       bool     `json:"gap_detection"`
	BackupRestore      bool     `json:"backup_restore"`
	MaxBatchSize       int      `json:"max_batch_size"`
	SupportedDataTypes []string `json:"supported_data_types"`
}

func BasicFeatures() DatabaseFeatures {
	return DatabaseFeatures{
		MaxBatchSize:       1000,
		SupportedDataTypes: []string{string(domain.KindGeneric)},
	}
}

func FullFeatures() DatabaseFeatures {
	return DatabaseFeatures{
		TimeSeries:    true,
		Streaming:     true,
		Transactions:  true,
		Interpolation: true,
		Downsampling:  true,
		Aggregation:   true,
		GapDetection:  true,
		BackupRestore: true,
		MaxBatchSize:  10000,
		SupportedDataTypes: []string{
			string(domain.KindCamera),
			string(domain.KindRadar),
			string(domain.KindLidar),
			string(domain.KindUltrasonic),
			string(domain.KindIMU),
			string(domain.KindGPS),
			string(domain.KindCAN),
			string(domain.KindGeneric),
		},
	}
}

func (f DatabaseFeatures) SupportsDataType(kind domain.SensorKind) bool {
	for _, k := range f.SupportedDataTypes {
		if k == string(kind) {
			return true
		}
	}
	return false
}

// CheckBatch rejects batches larger than MaxBatchSize.
func (f DatabaseFeatures) CheckBatch(n int) error {
	if f.MaxBatchSize > 0 && n > f.MaxBatchSize {
		return fmt.Errorf("%w: batch of %d exceeds max batch size %d", domain.ErrWrite, n, f.MaxBatchSize)
	}
	return nil
}

// Unsupported builds the error returned for an operation outside the features.
func Unsupported(backend, op string) error {
	return fmt.Errorf("%w: %s does not support %s", domain.ErrUnsupportedOperation, backend, op)
}
