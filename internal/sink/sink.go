// Package sink persists captured page payloads to disk.
package sink

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Result describes a written file.
type Result struct {
	Path  string
	Bytes int64
}

// Write stores data at path, creating parent directories and replacing any
// existing file.
func Write(path string, data []byte) (Result, error) {
	if path == "" {
		return Result{}, fmt.Errorf("sink: empty destination path")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Result{}, fmt.Errorf("sink: mkdir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Result{}, fmt.Errorf("sink: write %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("sink: stat %s: %w", path, err)
	}
	slog.Debug("sink file written", "path", path, "size", info.Size())
	return Result{Path: path, Bytes: info.Size()}, nil
}

// WriteText stores a UTF-8 string.
func WriteText(path, text string) (Result, error) {
	return Write(path, []byte(text))
}

// WriteBase64 decodes standard base64 data and stores the bytes. Nothing is
// written when decoding fails.
func WriteBase64(path, data string) (Result, error) {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Result{}, fmt.Errorf("sink: base64 decode: %w", err)
	}
	return Write(path, decoded)
}

// HumanSize formats n as megabytes with two decimals.
func HumanSize(n int64) string {
	return fmt.Sprintf("%.2fMB", float64(n)/1024/1024)
}
