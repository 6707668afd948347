package s3mirror

import (
	"context"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	Uploaded      uint64
	Failed        uint64
	Dropped       uint64
	LastSuccess   time.Time
}

// Mirror uploads files in the background. Enqueue never blocks the caller;
// a full queue drops the file, and the next snapshot supersedes it anyway.
type Mirror struct {
	up      Uploader
	baseDir string
	prefix  string
	log     *log.Logger

	jobs   chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	retries int
	backoff time.Duration

	uploaded    atomic.Uint64
	failed      atomic.Uint64
	dropped     atomic.Uint64
	lastSuccess atomic.Int64
}

// NewMirror maps files under baseDir to "<prefix>/<path relative to baseDir>".
func NewMirror(up Uploader, baseDir, prefix string, workers, queue int, logger *log.Logger) *Mirror {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Mirror{
		up:      up,
		baseDir: baseDir,
		prefix:  strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		log:     logger,
		jobs:    make(chan string, queue),
		ctx:     ctx,
		cancel:  cancel,
		retries: 4,
		backoff: 200 * time.Millisecond,
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.upload(p)
			}
		}()
	}
	return m
}

func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	select {
	case m.jobs <- localPath:
	default:
		n := m.dropped.Add(1)
		m.printf("mirror: queue full, dropped %s (dropped=%d)", localPath, n)
	}
}

// Close uploads what is queued, giving up on retries once ctx is done.
func (m *Mirror) Close(ctx context.Context) {
	if m == nil {
		return
	}
	close(m.jobs)
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.cancel()
		<-done
	}
	m.cancel()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	st := Stats{
		QueueDepth:    len(m.jobs),
		QueueCapacity: cap(m.jobs),
		Uploaded:      m.uploaded.Load(),
		Failed:        m.failed.Load(),
		Dropped:       m.dropped.Load(),
	}
	if ts := m.lastSuccess.Load(); ts > 0 {
		st.LastSuccess = time.Unix(ts, 0).UTC()
	}
	return st
}

func (m *Mirror) upload(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.failed.Add(1)
		m.printf("mirror: skip %s: %v", localPath, err)
		return
	}
	var lastErr error
	for attempt := 1; attempt <= m.retries; attempt++ {
		ctx, cancel := context.WithTimeout(m.ctx, 2*time.Minute)
		lastErr = m.up.PutFile(ctx, key, localPath)
		cancel()
		if lastErr == nil {
			m.uploaded.Add(1)
			m.lastSuccess.Store(time.Now().Unix())
			m.printf("mirror: uploaded %s", key)
			return
		}
		if attempt == m.retries {
			break
		}
		select {
		case <-time.After(time.Duration(attempt*attempt) * m.backoff):
		case <-m.ctx.Done():
			attempt = m.retries
		}
	}
	m.failed.Add(1)
	m.printf("mirror: upload %s failed: %v", key, lastErr)
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	base, err := filepath.Abs(m.baseDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", abs, base)
	}
	if m.prefix == "" {
		return rel, nil
	}
	return path.Join(m.prefix, rel), nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.log != nil {
		m.log.Printf(format, args...)
	}
}
