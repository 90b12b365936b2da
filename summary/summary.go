// Package summary emits per-epoch scalar time series, one destination per
// dataset split. When a run has no tag there is nothing to write under, so
// callers substitute NopWriter.
package summary

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Writer records named scalar values keyed by epoch
type Writer interface {
	AddScalar(name string, epoch int, value float64) error
	Close() error
}

// NopWriter discards all scalars
type NopWriter struct{}

func (NopWriter) AddScalar(name string, epoch int, value float64) error { return nil }
func (NopWriter) Close() error                                         { return nil }

// FileWriter appends scalars to a CSV file under the writer's directory
type FileWriter struct {
	file *os.File
	csv  *csv.Writer
}

// NewFileWriter creates the destination directory and opens scalars.csv in it
func NewFileWriter(dir string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create summary directory: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(dir, "scalars.csv"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open summary file: %w", err)
	}

	return &FileWriter{
		file: file,
		csv:  csv.NewWriter(file),
	}, nil
}

// AddScalar appends one (name, epoch, value) row
func (w *FileWriter) AddScalar(name string, epoch int, value float64) error {
	return w.csv.Write([]string{
		name,
		strconv.Itoa(epoch),
		strconv.FormatFloat(value, 'g', -1, 64),
	})
}

// Close flushes buffered rows and releases the file
func (w *FileWriter) Close() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
