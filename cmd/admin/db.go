package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func usersCmd(args []string) {
	fs := flag.NewFlagSet("users", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 50, "result limit")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "server.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "index db:", err)
		os.Exit(1)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 50
	}
	rows, err := db.Query(`
		SELECT u.username, u.created_at,
			(SELECT MAX(s.at) FROM sessions s WHERE s.username = u.username AND s.event = 'auth_ok')
		FROM users u ORDER BY u.created_at DESC LIMIT ?`, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			Username  string `json:"username"`
			CreatedAt string `json:"created_at"`
			LastLogin string `json:"last_login,omitempty"`
		}
		var last sql.NullString
		if err := rows.Scan(&r.Username, &r.CreatedAt, &last); err != nil {
			fmt.Fprintln(os.Stderr, "scan:", err)
			os.Exit(1)
		}
		r.LastLogin = last.String
		printJSON(r)
	}
	if err := rows.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "rows:", err)
		os.Exit(1)
	}
}
