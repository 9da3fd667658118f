package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

// advisoryLockID сериализует миграции между инстансами сервиса.
const advisoryLockID = int64(917_004_211)

const migrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// migration — пара up/down скриптов одной версии схемы.
type migration struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

// MigrateUp применяет недостающие up-миграции по возрастанию версии.
// steps=0 означает "до конца".
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.runMigrations(ctx, steps, false)
}

// MigrateDown откатывает последние применённые миграции. steps<=0
// трактуется как один шаг.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.runMigrations(ctx, steps, true)
}

// MigrationStatus возвращает максимальную применённую версию и число
// записей в журнале миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, fmt.Errorf("postgres store is not initialized")
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, migrationsTable); err != nil {
		return 0, 0, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	var (
		version int64
		applied int
	)
	row := s.db.QueryRowContext(queryCtx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`)
	if err := row.Scan(&version, &applied); err != nil {
		return 0, 0, fmt.Errorf("read schema_migrations: %w", err)
	}
	return version, applied, nil
}

func (s *Store) runMigrations(ctx context.Context, steps int, rollback bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	plan, err := readMigrationScripts(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection for migrations: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, advisoryLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, advisoryLockID)
	}()

	if _, err := conn.ExecContext(ctx, migrationsTable); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	if rollback {
		return rollbackLatest(ctx, conn, plan, steps)
	}
	return applyPending(ctx, conn, plan, steps)
}

func applyPending(ctx context.Context, conn *sql.Conn, plan []migration, steps int) error {
	done, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	ran := 0
	for _, m := range plan {
		if done[m.Version] {
			continue
		}
		err := inTx(ctx, conn, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return fmt.Errorf("apply %d_%s: %w", m.Version, m.Name, err)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, NOW())`,
				m.Version, m.Name)
			if err != nil {
				return fmt.Errorf("journal %d_%s: %w", m.Version, m.Name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		ran++
		if steps > 0 && ran >= steps {
			break
		}
	}
	return nil
}

func rollbackLatest(ctx context.Context, conn *sql.Conn, plan []migration, steps int) error {
	byVersion := make(map[int64]migration, len(plan))
	for _, m := range plan {
		byVersion[m.Version] = m
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT version FROM schema_migrations ORDER BY version DESC LIMIT $1`, steps)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	var targets []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration version: %w", err)
		}
		targets = append(targets, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate schema_migrations: %w", err)
	}

	for _, v := range targets {
		m, ok := byVersion[v]
		if !ok {
			return fmt.Errorf("applied version %d has no migration script", v)
		}
		err := inTx(ctx, conn, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Down); err != nil {
				return fmt.Errorf("rollback %d_%s: %w", m.Version, m.Name, err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM schema_migrations WHERE version = $1`, m.Version); err != nil {
				return fmt.Errorf("unjournal %d_%s: %w", m.Version, m.Name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func inTx(ctx context.Context, conn *sql.Conn, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[int64]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		done[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema_migrations: %w", err)
	}
	return done, nil
}

// readMigrationScripts собирает пары NNNN_name.{up,down}.sql в отсортированный
// по версии план.
func readMigrationScripts(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, "sql/migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migration scripts: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration scripts embedded")
	}

	byVersion := make(map[int64]*migration)
	for _, file := range files {
		base := path.Base(file)
		version, name, dir, err := parseMigrationName(base)
		if err != nil {
			return nil, err
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration script %s is empty", base)
		}

		m := byVersion[version]
		if m == nil {
			m = &migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("version %d used by both %q and %q", version, m.Name, name)
		}

		switch dir {
		case "up":
			if m.Up != "" {
				return nil, fmt.Errorf("duplicate up script for version %d", version)
			}
			m.Up = body
		case "down":
			if m.Down != "" {
				return nil, fmt.Errorf("duplicate down script for version %d", version)
			}
			m.Down = body
		}
	}

	plan := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("migration %d_%s needs both up and down scripts", m.Version, m.Name)
		}
		plan = append(plan, *m)
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].Version < plan[j].Version })
	return plan, nil
}

// parseMigrationName разбирает имя вида 0001_init.up.sql.
func parseMigrationName(base string) (version int64, name, dir string, err error) {
	rest, ok := strings.CutSuffix(base, ".sql")
	if !ok {
		return 0, "", "", fmt.Errorf("not a sql script: %s", base)
	}
	switch {
	case strings.HasSuffix(rest, ".up"):
		dir = "up"
		rest = strings.TrimSuffix(rest, ".up")
	case strings.HasSuffix(rest, ".down"):
		dir = "down"
		rest = strings.TrimSuffix(rest, ".down")
	default:
		return 0, "", "", fmt.Errorf("migration script %s must end in .up.sql or .down.sql", base)
	}

	versionPart, namePart, ok := strings.Cut(rest, "_")
	if !ok || namePart == "" {
		return 0, "", "", fmt.Errorf("migration script %s must be named NNNN_name.%s.sql", base, dir)
	}
	version, err = strconv.ParseInt(versionPart, 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("migration script %s has non-numeric version: %w", base, err)
	}
	return version, namePart, dir, nil
}
