package ports

import "time"

// Policy bounds the live ingest pipeline.
type Policy struct {
	MaxQueueLen  int           `yaml:"max_queue_len"`
	MaxBatchSize int           `yaml:"max_batch_size"`
	IdleSleep    time.Duration `yaml:"idle_sleep"`
	FlushEvery   time.Duration `yaml:"flush_every"`

	OnQueueFull string `yaml:"on_queue_full"` // "block", "drop"
}
