// Package logfile keeps the server log file bounded across restarts.
package logfile

import (
	"fmt"
	"io"
	"os"
)

const (
	DefaultMaxSize  = 5 * 1024 * 1024 // 5 MB
	DefaultKeepSize = 256 * 1024      // 256 KB
)

// Truncate shrinks the file at path to its last keepSize bytes when it is
// larger than maxSize. A missing file is not an error.
func Truncate(path string, maxSize, keepSize int64) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() <= maxSize {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log file for truncation: %w", err)
	}
	seekPos := max(info.Size()-keepSize, 0)
	if _, err := f.Seek(seekPos, io.SeekStart); err != nil {
		f.Close()
		return fmt.Errorf("seek in log file: %w", err)
	}
	tail, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("read log file tail: %w", err)
	}

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("rewrite log file: %w", err)
	}
	defer out.Close()

	header := fmt.Sprintf("=== log truncated from %d bytes ===\n", info.Size())
	if _, err := out.WriteString(header); err != nil {
		return fmt.Errorf("write truncation header: %w", err)
	}
	if _, err := out.Write(tail); err != nil {
		return fmt.Errorf("write log tail: %w", err)
	}
	return nil
}
