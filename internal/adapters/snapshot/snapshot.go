package snapshot

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/vkanta/glsp-mcp-sub001/internal/domain"
)

const recordHeaderLen = 12

type Kind string

const (
	KindReading  Kind = "reading"
	KindMetadata Kind = "metadata"
	KindConfig   Kind = "config"
)

// Record is one entry of a snapshot file. Exactly one payload matches Kind.
type Record struct {
	Kind     Kind                   `json:"kind"`
	Reading  *domain.SensorReading  `json:"reading,omitempty"`
	Metadata *domain.SensorMetadata `json:"metadata,omitempty"`
	Key      string                 `json:"key,omitempty"`
	Value    json.RawMessage        `json:"value,omitempty"`
}

// Writer appends records to a snapshot file. The record count is written to
// a sidecar .meta file on Close so readers can detect incomplete snapshots.
type Writer struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	metaPath string
	seq      uint64
	size     int64
}

func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{
		file:     f,
		writer:   bufio.NewWriterSize(f, 1<<20),
		metaPath: path + ".meta",
	}, nil
}

// entry format: [8 bytes seq][4 bytes len][len bytes json]
func (w *Writer) Append(rec Record) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	b, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("%w: snapshot record: %v", domain.ErrSerialization, err)
	}

	id := w.seq + 1
	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], id)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(b)))

	if _, err := w.writer.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := w.writer.Write(b); err != nil {
		return 0, err
	}
	w.seq = id
	w.size += int64(len(b) + len(hdr))
	return id, nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		_ = w.file.Close()
		return err
	}
	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	return os.WriteFile(w.metaPath, []byte(fmt.Sprintf("%d\n", w.seq)), 0o644)
}

// Stats summarises a read pass.
type Stats struct {
	Records   uint64
	Expected  uint64
	SizeBytes int64
	// Truncated is set when the file ended inside a record.
	Truncated bool
}

// Complete reports whether every record announced by the meta file was read.
func (s Stats) Complete() bool {
	return !s.Truncated && (s.Expected == 0 || s.Records >= s.Expected)
}

// Read calls fn for every intact record. A torn tail ends the scan without
// error; callers check Stats.Complete.
func Read(path string, fn func(seq uint64, rec Record) error) (Stats, error) {
	var st Stats

	expected, err := loadExpected(path + ".meta")
	if err != nil {
		return st, err
	}
	st.Expected = expected

	f, err := os.Open(path)
	if err != nil {
		return st, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return st, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				st.Truncated = true
				return st, nil
			}
			return st, fmt.Errorf("snapshot header: %w", err)
		}
		seq := binary.BigEndian.Uint64(hdr[0:8])
		l := binary.BigEndian.Uint32(hdr[8:12])

		b := make([]byte, l)
		if _, err := io.ReadFull(r, b); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				st.Truncated = true
				return st, nil
			}
			return st, fmt.Errorf("snapshot body: %w", err)
		}

		var rec Record
		if err := json.Unmarshal(b, &rec); err != nil {
			return st, fmt.Errorf("%w: corrupt snapshot entry %d: %v", domain.ErrSerialization, seq, err)
		}
		st.Records++
		st.SizeBytes += int64(recordHeaderLen) + int64(l)
		if err := fn(seq, rec); err != nil {
			return st, err
		}
	}
}

func loadExpected(metaPath string) (uint64, error) {
	data, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	val := strings.TrimSpace(string(data))
	if val == "" {
		return 0, nil
	}
	u, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("snapshot meta parse: %w", err)
	}
	return u, nil
}
