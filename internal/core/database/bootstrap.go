package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"time"
)

//go:embed scripts/schema.sql scripts/pgvector.sql
var bootstrapFS embed.FS

const schemaVersion = 1

// EnsureBootstrapped applies the schema once per schema version. The vector
// index is only created when the driver is Postgres.
func EnsureBootstrapped(ctx context.Context, db *sql.DB, driver string, embedDim int) error {

	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	// A missing meta table surfaces as an error here, which means bootstrap.
	var applied int
	err := db.QueryRowContext(ctxBoot, `SELECT COUNT(*) FROM rehearsal_meta WHERE version = $1`, schemaVersion).Scan(&applied)
	if err == nil && applied > 0 {
		return nil
	}

	scripts := []string{"scripts/schema.sql"}
	if driver == DriverPostgres && embedDim > 0 {
		scripts = append(scripts, "scripts/pgvector.sql")
	}
	return runBootstrap(ctxBoot, db, scripts, embedDim)
}

func runBootstrap(ctx context.Context, db *sql.DB, scripts []string, embedDim int) error {
	var stmts []string
	for _, name := range scripts {
		sqlBytes, err := bootstrapFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		body := strings.ReplaceAll(string(sqlBytes), "{{EMBED_DIM}}", strconv.Itoa(embedDim))
		stmts = append(stmts, splitStatements(body)...)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec bootstrap: %w\n%s", err, stmt)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rehearsal_meta (version, applied_at) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING`,
		schemaVersion, time.Now().UTC()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	return nil
}

// splitStatements drops comment lines and splits on a trailing semicolon.
func splitStatements(body string) []string {
	var (
		out []string
		cur strings.Builder
	)
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		cur.WriteString(line)
		cur.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			out = append(out, strings.TrimSuffix(strings.TrimSpace(cur.String()), ";"))
			cur.Reset()
		}
	}
	if rest := strings.TrimSpace(cur.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}
