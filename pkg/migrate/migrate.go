package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where new migration files are written; the binaries run the
// embedded copy.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Migrations returns the SQL migrations compiled into the binary.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(fmt.Sprintf("embedded migrations: %v", err))
	}
	return sub
}

// Source picks the on-disk directory when dir is set, the embedded set otherwise.
func Source(dir string) fs.FS {
	if dir == "" {
		return Migrations()
	}
	return os.DirFS(dir)
}

func newProvider(db *sql.DB, fsys fs.FS) (*goose.Provider, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if fsys == nil {
		return nil, fmt.Errorf("migration source is required")
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return provider, nil
}

// Run executes up, down, status or version (with the target in args[0]).
func Run(ctx context.Context, db *sql.DB, fsys fs.FS, command string, args ...string) error {
	provider, err := newProvider(db, fsys)
	if err != nil {
		return err
	}
	switch command {
	case "up":
		_, err = provider.Up(ctx)
	case "down":
		_, err = provider.Down(ctx)
	case "status":
		err = printStatus(ctx, provider)
	case "version":
		if len(args) == 0 {
			return fmt.Errorf("version requires a target")
		}
		err = migrateTo(ctx, provider, args[0])
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
	if err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

func printStatus(ctx context.Context, provider *goose.Provider) error {
	statuses, err := provider.Status(ctx)
	if err != nil {
		return err
	}
	for _, status := range statuses {
		applied := "pending"
		if status.State == goose.StateApplied {
			applied = status.AppliedAt.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-20s %s\n", applied, status.Source.Path)
	}
	return nil
}

// migrateTo moves up or down to the requested YYYYMMDDHHMMSS version.
func migrateTo(ctx context.Context, provider *goose.Provider, targetVersion string) error {
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}
	current, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}
	switch {
	case current == target:
		return nil
	case current < target:
		_, err = provider.UpTo(ctx, target)
	default:
		_, err = provider.DownTo(ctx, target)
	}
	return err
}
