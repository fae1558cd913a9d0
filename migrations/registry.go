package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	persistence "github.com/goliatone/go-persistence-bun"

	subsync "github.com/goliatone/go-subsync"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	migrationsDir = "data/sql/migrations"
)

// Set is the migration tree of one dialect.
type Set struct {
	Dialect string
	Path    string
	FS      fs.FS
	// Versions lists migration names without the .up.sql suffix, sorted.
	Versions []string
}

type RegisterFunc func(ctx context.Context, set Set) error

// Sets returns the postgres and sqlite migration sets from root, or from the
// embedded tree when root is nil. Every up migration must have a matching
// down migration.
func Sets(root fs.FS) ([]Set, error) {
	if root == nil {
		root = subsync.GetMigrationsFS()
	}
	base, err := fs.Sub(root, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("migrations: %s not found: %w", migrationsDir, err)
	}
	sqliteFS, err := fs.Sub(base, DialectSQLite)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite tree: %w", err)
	}

	sets := []Set{
		{Dialect: DialectPostgres, Path: migrationsDir, FS: base},
		{Dialect: DialectSQLite, Path: migrationsDir + "/" + DialectSQLite, FS: sqliteFS},
	}
	for i := range sets {
		versions, err := pairedVersions(sets[i].FS)
		if err != nil {
			return nil, fmt.Errorf("migrations: %s (%s): %w", sets[i].Dialect, sets[i].Path, err)
		}
		sets[i].Versions = versions
	}
	return sets, nil
}

// ForDialect returns the embedded migration set of dialect.
func ForDialect(dialect string) (Set, error) {
	dialect = normalizeDialect(dialect)
	sets, err := Sets(nil)
	if err != nil {
		return Set{}, err
	}
	for _, set := range sets {
		if set.Dialect == dialect {
			return set, nil
		}
	}
	return Set{}, fmt.Errorf("migrations: unsupported dialect %q", dialect)
}

// Register hands the embedded set of each dialect to registerFn. With no
// dialects, every set is registered.
func Register(ctx context.Context, registerFn RegisterFunc, dialects ...string) ([]Set, error) {
	if registerFn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	sets, err := Sets(nil)
	if err != nil {
		return nil, err
	}
	wanted := make([]string, 0, len(dialects))
	for _, dialect := range dialects {
		if normalized := normalizeDialect(dialect); normalized != "" {
			wanted = append(wanted, normalized)
		}
	}

	registered := make([]Set, 0, len(sets))
	for _, set := range sets {
		if len(wanted) > 0 && !slices.Contains(wanted, set.Dialect) {
			continue
		}
		if err := registerFn(ctx, set); err != nil {
			return registered, fmt.Errorf("migrations: register %s: %w", set.Dialect, err)
		}
		registered = append(registered, set)
	}
	if len(registered) == 0 {
		return nil, fmt.Errorf("migrations: no migration set for %v", dialects)
	}
	return registered, nil
}

// Apply registers the migrations of dialect on client and runs the pending
// ones. Applied migrations are tracked by the client, so reruns are no-ops.
func Apply(ctx context.Context, client *persistence.Client, dialect string) (Set, error) {
	if client == nil {
		return Set{}, fmt.Errorf("migrations: persistence client is required")
	}
	set, err := ForDialect(dialect)
	if err != nil {
		return Set{}, err
	}
	client.RegisterSQLMigrations(set.FS)
	if err := client.Migrate(ctx); err != nil {
		return set, fmt.Errorf("migrations: apply %s: %w", set.Dialect, err)
	}
	return set, nil
}

func pairedVersions(fsys fs.FS) ([]string, error) {
	ups, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, err
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("no *.up.sql files")
	}
	versions := make([]string, 0, len(ups))
	for _, up := range ups {
		version := strings.TrimSuffix(up, ".up.sql")
		if _, err := fs.Stat(fsys, version+".down.sql"); err != nil {
			return nil, fmt.Errorf("%s has no down migration", up)
		}
		versions = append(versions, version)
	}
	slices.Sort(versions)
	return versions, nil
}

func normalizeDialect(dialect string) string {
	switch strings.TrimSpace(strings.ToLower(dialect)) {
	case "postgres", "postgresql", "pg":
		return DialectPostgres
	case "sqlite", "sqlite3":
		return DialectSQLite
	default:
		return strings.TrimSpace(strings.ToLower(dialect))
	}
}
