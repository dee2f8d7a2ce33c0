package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileSink appends records as JSON lines to a local file. A mutex
// serializes appends so concurrent records never interleave.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (or creates) the audit file in append-only mode.
func NewFileSink(path string) (*FileSink, error) {
	// #nosec G304 -- path is operator-provided configuration.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &FileSink{file: f}, nil
}

func (s *FileSink) Append(_ context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// ReadFile loads all records from a JSONL audit file, preserving append
// order. Used by the replay tool.
func ReadFile(path string) ([]Record, error) {
	// #nosec G304 -- path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var records []Record
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode audit record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
	return records, nil
}
