package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
)

func readEntries(t *testing.T, path string) []AuditEntry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()

	var out []AuditEntry
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestAuditLogger_WritesHourlyFile(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLogger(dir)
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	l.w.now = func() time.Time { return at }

	if err := l.WriteAudit(AuditEntry{SessionID: "s1", Event: EventAuthOK, Username: "alice"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.WriteAudit(AuditEntry{SessionID: "s1", Event: EventActionRejected, Sequence: 9, Code: "E_BAD_SLOT"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := readEntries(t, filepath.Join(dir, "audit", "session-2026-03-04-05.jsonl.zst"))
	if len(got) != 2 {
		t.Fatalf("entries=%d want 2", len(got))
	}
	if got[0].Username != "alice" || got[0].Time.IsZero() {
		t.Fatalf("first entry: %+v", got[0])
	}
	if got[1].Sequence != 9 || got[1].Code != "E_BAD_SLOT" {
		t.Fatalf("second entry: %+v", got[1])
	}
}

func TestJSONLZstdWriter_RotatesByHour(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "x")
	at := time.Date(2026, 1, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return at }
	if err := w.Write(map[string]int{"a": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	at = at.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"a": 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	for _, name := range []string{"x-2026-01-01-10.jsonl.zst", "x-2026-01-01-11.jsonl.zst"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
}

func TestAuditLogger_NilIsNoop(t *testing.T) {
	var l *AuditLogger
	if err := l.WriteAudit(AuditEntry{Event: EventClosed}); err != nil {
		t.Fatalf("nil write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}

func TestJSONLZstdWriter_OpenFileIsReadable(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLogger(dir)
	defer l.Close()
	if err := l.WriteAudit(AuditEntry{SessionID: "s", Event: EventAuthOK}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.WriteAudit(AuditEntry{SessionID: "s", Event: EventClosed}); err != nil {
		t.Fatalf("write: %v", err)
	}
	files, _ := filepath.Glob(filepath.Join(dir, "audit", "session-*.jsonl.zst"))
	if len(files) != 1 {
		t.Fatalf("files=%v", files)
	}
	if got := readEntries(t, files[0]); len(got) != 2 || got[1].Event != EventClosed {
		t.Fatalf("entries=%+v", got)
	}
}
