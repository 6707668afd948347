package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"

	vlog "voxelwire.io/internal/persistence/log"
	"voxelwire.io/internal/persistence/snapshot"
)

const usage = `usage: admin <command> [flags]

commands:
  state      print live server stats (admin http)
  sessions   print indexed session events for -user (admin http)
  snapshot   ask the server to save edited chunks now (admin http)
  inspect    describe a snapshot file (defaults to the newest)
  audit      print session audit entries from the data dir
  users      list registered users from the index db
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	args := os.Args[2:]
	switch os.Args[1] {
	case "state":
		stateCmd(args)
	case "sessions":
		sessionsCmd(args)
	case "snapshot":
		snapshotCmd(args)
	case "inspect":
		inspectCmd(args)
	case "audit":
		auditCmd(args)
	case "users":
		usersCmd(args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	path := fs.String("path", "", "snapshot file (optional; defaults to latest)")
	chunks := fs.Bool("chunks", false, "list chunk coordinates")
	_ = fs.Parse(args)

	p := strings.TrimSpace(*path)
	if p == "" {
		p = snapshot.Latest(filepath.Join(*dataDir, "snapshots"))
	}
	if p == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -path or let the server write one")
		os.Exit(2)
	}
	st, err := os.Stat(p)
	if err != nil {
		fmt.Fprintln(os.Stderr, "stat:", err)
		os.Exit(1)
	}
	snap, err := snapshot.Read(p)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	h := snap.Header
	fmt.Printf("%s: version=%d seed=%d chunks=%d blocks=%s saved=%s (%s) size=%s\n",
		filepath.Base(p), h.Version, h.Seed, h.Chunks, h.BlocksDigest,
		h.SavedAt.Format(time.RFC3339), humanize.Time(h.SavedAt), humanize.Bytes(uint64(st.Size())))
	if *chunks {
		for _, c := range snap.Chunks {
			fmt.Printf("  %d,%d,%d\n", c.Coord.X, c.Coord.Y, c.Coord.Z)
		}
	}
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	user := fs.String("user", "", "username filter")
	event := fs.String("event", "", "event filter, e.g. action_rejected")
	since := fs.Duration("since", 0, "only entries newer than this (0 = all)")
	_ = fs.Parse(args)

	var cutoff time.Time
	if *since > 0 {
		cutoff = time.Now().Add(-*since)
	}
	match := func(e vlog.AuditEntry) bool {
		if *user != "" && e.Username != *user {
			return false
		}
		if *event != "" && e.Event != *event {
			return false
		}
		return cutoff.IsZero() || !e.Time.Before(cutoff)
	}

	dir := filepath.Join(*dataDir, "audit")
	names, err := auditFiles(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audit dir:", err)
		os.Exit(1)
	}
	for i, name := range names {
		err := readAudit(filepath.Join(dir, name), match, printJSON)
		if err == nil {
			continue
		}
		// A crash can leave a torn frame at the end of the newest file.
		if i == len(names)-1 {
			fmt.Fprintf(os.Stderr, "%s: stopped early: %v\n", name, err)
			return
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		os.Exit(1)
	}
}

func auditFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "session-") && strings.HasSuffix(e.Name(), ".jsonl.zst") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func readAudit(path string, match func(vlog.AuditEntry) bool, emit func(any)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var e vlog.AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		if match(e) {
			emit(e)
		}
	}
	return sc.Err()
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
