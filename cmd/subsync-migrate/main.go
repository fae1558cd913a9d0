package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	cfgx "github.com/goliatone/go-config/cfgx"
	glog "github.com/goliatone/go-logger/glog"

	subsync "github.com/goliatone/go-subsync"
	"github.com/goliatone/go-subsync/core"
	"github.com/goliatone/go-subsync/migrations"
	"github.com/goliatone/go-subsync/security"
	sqlstore "github.com/goliatone/go-subsync/store/sql"
)

const appKeyEnv = "SUBSYNC_APP_KEY"

type databaseSection struct {
	Database struct {
		Driver string `koanf:"driver" mapstructure:"driver"`
		DSN    string `koanf:"dsn" mapstructure:"dsn"`
		Debug  bool   `koanf:"debug" mapstructure:"debug"`
	} `koanf:"database" mapstructure:"database"`
}

type options struct {
	configPath string
	exportPath string
	driver     string
	dsn        string
	source     string
	batchID    string
	timeout    time.Duration
	verbose    bool
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}
	if err := run(opts, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "subsync-migrate: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("subsync-migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&opts.exportPath, "export", "", "panel export file (required)")
	fs.StringVar(&opts.driver, "driver", "", "target database driver: sqlite3 or postgres")
	fs.StringVar(&opts.dsn, "dsn", "", "target database DSN")
	fs.StringVar(&opts.source, "source", "", "source panel name, overrides migration.source")
	fs.StringVar(&opts.batchID, "batch-id", "", "batch id, overrides the export batch_id")
	fs.DurationVar(&opts.timeout, "timeout", 10*time.Minute, "overall migration timeout")
	fs.BoolVar(&opts.verbose, "v", false, "log each service operation to stderr")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: subsync-migrate -export <file> [-config <file>] [-driver sqlite3|postgres] [-dsn <dsn>]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if strings.TrimSpace(opts.exportPath) == "" {
		fs.Usage()
		return options{}, fmt.Errorf("export file is required")
	}
	return opts, nil
}

func run(opts options, stdout, stderr io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	loader := core.NewYAMLConfigLoader(opts.configPath)
	conn, err := connectionConfig(ctx, loader, opts)
	if err != nil {
		return err
	}

	client, err := sqlstore.Open(conn)
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := migrations.Apply(ctx, client, conn.MigrationDialect()); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	serviceOpts := []subsync.Option{
		subsync.WithConfigProvider(core.NewCfgxConfigProvider(serviceSection{loader})),
		subsync.WithSQLStores(client),
	}
	if opts.verbose {
		serviceOpts = append(serviceOpts, subsync.WithLogger(glog.NewLogger(
			glog.WithName("subsync-migrate"),
			glog.WithWriter(stderr),
			glog.WithLoggerTypeConsole(),
		)))
	}
	if key := strings.TrimSpace(os.Getenv(appKeyEnv)); key != "" {
		sealer, err := security.NewAppKeySealerFromString(key)
		if err != nil {
			return fmt.Errorf("%s: %w", appKeyEnv, err)
		}
		serviceOpts = append(serviceOpts, subsync.WithSecretOpener(sealer))
	}

	runtime := subsync.Config{}
	runtime.Migration.Source = strings.TrimSpace(opts.source)
	svc, err := subsync.NewService(runtime, serviceOpts...)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}

	contents, err := readExport(opts.exportPath, time.Now().UTC())
	if err != nil {
		return err
	}
	if id := strings.TrimSpace(opts.batchID); id != "" {
		contents.Batch.ID = id
	}

	report, migrateErr := svc.MigrateAccounts(ctx, contents.Batch)
	printReport(stdout, report)
	if migrateErr != nil {
		return fmt.Errorf("migrate accounts: %w", migrateErr)
	}

	if len(contents.Shared) > 0 {
		shared, err := svc.MergeUsage(ctx, contents.Shared)
		printMerge(stdout, "shared usage", shared)
		if err != nil {
			return fmt.Errorf("merge shared usage: %w", err)
		}
	}
	return nil
}

// serviceSection hides the database section from the service config.
type serviceSection struct {
	core.RawConfigLoader
}

func (l serviceSection) LoadRaw(ctx context.Context) (map[string]any, error) {
	raw, err := l.RawConfigLoader.LoadRaw(ctx)
	if err != nil {
		return nil, err
	}
	delete(raw, "database")
	return raw, nil
}

// connectionConfig reads the database section of the config file; flags win.
func connectionConfig(ctx context.Context, loader core.RawConfigLoader, opts options) (sqlstore.ConnectionConfig, error) {
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return sqlstore.ConnectionConfig{}, err
	}
	section, err := cfgx.Build[databaseSection](raw)
	if err != nil {
		return sqlstore.ConnectionConfig{}, fmt.Errorf("database config: %w", err)
	}
	conn := sqlstore.ConnectionConfig{
		Driver: section.Database.Driver,
		DSN:    section.Database.DSN,
		Debug:  section.Database.Debug,
	}
	if driver := strings.TrimSpace(opts.driver); driver != "" {
		conn.Driver = driver
	}
	if dsn := strings.TrimSpace(opts.dsn); dsn != "" {
		conn.DSN = dsn
	}
	if strings.TrimSpace(conn.Driver) == "" {
		conn.Driver = sqlstore.DriverSQLite
	}
	if strings.TrimSpace(conn.DSN) == "" {
		return sqlstore.ConnectionConfig{}, fmt.Errorf("database dsn is required (-dsn or database.dsn)")
	}
	return conn, nil
}

func printReport(w io.Writer, report core.MigrationReport) {
	fmt.Fprintf(w, "batch %s: %d accounts\n", report.BatchID, len(report.Accounts))
	for _, outcome := range []core.AccountOutcome{
		core.AccountMigrated,
		core.AccountRenamed,
		core.AccountUpdated,
		core.AccountReused,
		core.AccountSkipped,
		core.AccountUnresolvable,
	} {
		fmt.Fprintf(w, "  %-13s %d\n", outcome, report.Count(outcome))
	}
	for _, account := range report.Accounts {
		switch account.Outcome {
		case core.AccountRenamed:
			fmt.Fprintf(w, "  renamed %s -> %s\n", account.ExternalIdentity, account.Identity)
		case core.AccountUpdated:
			fmt.Fprintf(w, "  updated %s -> %s\n", account.ExternalIdentity, account.Identity)
		case core.AccountUnresolvable:
			fmt.Fprintf(w, "  unresolvable %s\n", account.ExternalIdentity)
		}
	}
	printMerge(w, "account usage", report.Usage)
}

func printMerge(w io.Writer, label string, report core.MergeReport) {
	fmt.Fprintf(w, "%s: processed=%d inserted=%d updated=%d skipped=%d\n",
		label, report.Processed, report.Inserted, report.Updated, report.Skipped)
}
