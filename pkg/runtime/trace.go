package runtime

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// TraceWriter appends log entries to a JSONL trace file as they are emitted,
// so a crashed run still leaves a durable record on disk.
type TraceWriter struct {
	file   *os.File
	writer *bufio.Writer
	enc    *json.Encoder
}

// NewTraceWriter creates a trace writer that appends to the given file.
func NewTraceWriter(path string) (*TraceWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	w := bufio.NewWriter(f)
	return &TraceWriter{
		file:   f,
		writer: w,
		enc:    json.NewEncoder(w),
	}, nil
}

// Write appends one entry as a JSONL line and flushes to the OS.
func (tw *TraceWriter) Write(entry LogEntry) error {
	if err := tw.enc.Encode(entry); err != nil {
		return fmt.Errorf("encode trace entry: %w", err)
	}
	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("flush trace: %w", err)
	}
	return nil
}

// Sync forces the entries written so far onto stable storage. Called at step
// boundaries.
func (tw *TraceWriter) Sync() error {
	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("flush trace: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("sync trace: %w", err)
	}
	return nil
}

// Close flushes and closes the trace file.
func (tw *TraceWriter) Close() error {
	if err := tw.writer.Flush(); err != nil {
		return err
	}
	return tw.file.Close()
}
