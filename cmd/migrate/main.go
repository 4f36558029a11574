// Command migrate applies the SQL files in migrations/ in lexical order and
// reports on the resulting schema. Without flags it applies; --status prints
// row counts and the archive coverage per summary type instead.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"
)

var schemaTables = []string{"tenants", "tenant_accounts", "metric_archive"}

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	dir := "migrations"
	statusOnly := false
	for _, a := range os.Args[1:] {
		if a == "--status" {
			statusOnly = true
		} else {
			dir = a
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("[Migrate] connect: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("[Migrate] ping: %v", err)
	}

	if statusOnly {
		printStatus(db)
		return
	}

	ok, failed := applyMigrations(db, dir)
	log.Printf("[Migrate] Done: %d applied, %d failed", ok, failed)
	if failed > 0 {
		os.Exit(1)
	}
	printStatus(db)
}

func applyMigrations(db *sql.DB, dir string) (ok, failed int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatalf("[Migrate] read migrations dir %s: %v", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		path := filepath.Join(dir, f)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("[Migrate] read %s: %v", path, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		fmt.Printf("  %s ... ", f)

		tx, err := db.Begin()
		if err != nil {
			fmt.Printf("BEGIN ERROR: %v\n", err)
			failed++
			continue
		}
		if _, err := tx.Exec(string(data)); err != nil {
			tx.Rollback()
			fmt.Printf("ERROR: %v\n", err)
			failed++
		} else {
			tx.Commit()
			fmt.Println("OK")
			ok++
		}
	}
	return ok, failed
}

// printStatus reports row counts per schema table and, for the archive,
// the stored date range per summary type. Missing tables report as such
// rather than failing, so --status works against an empty database.
func printStatus(db *sql.DB) {
	fmt.Println("Schema status:")
	for _, table := range schemaTables {
		var count int64
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			fmt.Printf("  %-16s missing (%v)\n", table, err)
			continue
		}
		fmt.Printf("  %-16s %d rows\n", table, count)
	}

	rows, err := db.Query(`SELECT summary_type, COUNT(*),
			MIN(summary_date)::text, MAX(summary_date)::text
		FROM metric_archive GROUP BY summary_type ORDER BY summary_type`)
	if err != nil {
		return
	}
	defer rows.Close()

	for rows.Next() {
		var st, from, to string
		var count int64
		if err := rows.Scan(&st, &count, &from, &to); err != nil {
			continue
		}
		fmt.Printf("  archive %-8s %d summaries, %s .. %s\n", st, count, from, to)
	}
}
