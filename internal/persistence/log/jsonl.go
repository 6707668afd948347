package log

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// JSONLZstdWriter appends JSON lines to hourly files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir. Every line is written as its
// own zstd frame, so a file that is still open decodes cleanly up to the last
// completed write.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu    sync.Mutex
	hour  string
	f     *os.File
	enc   *zstd.Encoder
	frame []byte
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{baseDir: baseDir, prefix: prefix, now: time.Now}
}

func (w *JSONLZstdWriter) Write(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enc == nil {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
		if err != nil {
			return err
		}
		w.enc = enc
	}
	if hour := w.now().UTC().Format("2006-01-02-15"); hour != w.hour || w.f == nil {
		if err := w.openLocked(hour); err != nil {
			return err
		}
	}
	w.frame = w.enc.EncodeAll(line, w.frame[:0])
	_, err = w.f.Write(w.frame)
	return err
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.closeFileLocked()
	if w.enc != nil {
		_ = w.enc.Close()
		w.enc = nil
	}
	return err
}

func (w *JSONLZstdWriter) openLocked(hour string) error {
	if err := w.closeFileLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour)
	f, err := os.OpenFile(filepath.Join(w.baseDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.f, w.hour = f, hour
	return nil
}

func (w *JSONLZstdWriter) closeFileLocked() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
