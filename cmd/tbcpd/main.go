// =============================================================================
// TBCP daemon entrypoint
// =============================================================================
// Usage:
//
//	tbcpd serve                       # start the HTTP listener
//	tbcpd serve --config config.yaml  # use a specific config file
//	tbcpd version                     # print version information
//	tbcpd health                      # probe a running instance's /api/health
//	tbcpd migrate up                  # apply pending migrations
//	tbcpd migrate down                # roll back the last migration
//	tbcpd migrate status              # show migration status
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tbcp-io/tbcp/internal/config"
	"github.com/tbcp-io/tbcp/internal/migration"
	"github.com/tbcp-io/tbcp/internal/telemetry"
	"github.com/tbcp-io/tbcp/internal/tlsutil"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting tbcpd",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if otelProviders != nil {
			_ = otelProviders.Shutdown(context.Background())
		}
	}()

	if err := applyMigrations(cfg, logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	db, immediateDB, err := openDatabase(cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}

	srv, err := NewServer(cfg, db, immediateDB, logger)
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}

	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	srv.WaitForShutdown()

	logger.Info("tbcpd stopped")
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := tlsutil.SecureHTTPClient(5 * time.Second)
	resp, err := client.Get(*addr + "/api/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("tbcpd %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`tbcpd - Token & Budget Control Plane

Usage:
  tbcpd <command> [options]

Commands:
  serve     Start the tbcpd server
  migrate   Database migration commands
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Migration subcommands:
  migrate up        Apply all pending migrations
  migrate down      Rollback the last migration
  migrate status    Show migration status
  migrate version   Show current migration version
  migrate goto <v>  Migrate to a specific version
  migrate force <v> Force set migration version
  migrate reset     Rollback all migrations

Examples:
  tbcpd serve
  tbcpd serve --config /etc/tbcpd/config.yaml
  tbcpd migrate up
  tbcpd migrate status
  tbcpd health --addr http://localhost:8080
  tbcpd version`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	} else {
		zapConfig.Encoding = "json"
	}

	opts := []zap.Option{}
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// applyMigrations runs every pending migration before the listener binds,
// per the startup ordering this service requires.
func applyMigrations(cfg *config.Config, logger *zap.Logger) error {
	migrator, err := migration.NewMigratorFromDatabaseConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	cli.SetOutput(zapWriter{logger})
	if err := cli.RunUp(context.Background()); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

type zapWriter struct{ logger *zap.Logger }

func (w zapWriter) Write(p []byte) (int, error) {
	w.logger.Info(string(p))
	return len(p), nil
}

// openDatabase opens the two gorm handles internal/store.PoolManager
// expects: db for ordinary reads/writes, immediateDB for the
// check-and-reserve transactions borrow/spend/limit enforcement need.
// On sqlite these are two connections to the same file distinguished by
// the _txlock DSN parameter; on postgres immediateDB is nil, since
// check-and-reserve there takes a row lock instead of a connection-level
// transaction mode.
func openDatabase(dbCfg config.DatabaseConfig, logger *zap.Logger) (db, immediateDB *gorm.DB, err error) {
	dbType, err := migration.ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, nil, err
	}

	switch dbType {
	case migration.DatabaseTypePostgres:
		dsn := migration.BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode)
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
	case migration.DatabaseTypeSQLite:
		dsn := migration.BuildDatabaseURL(dbType, "", 0, dbCfg.Name, "", "", "")
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{})
		if err != nil {
			return nil, nil, fmt.Errorf("connect sqlite: %w", err)
		}
		immediateDSN := migration.BuildImmediateDatabaseURL(dbType, "", 0, dbCfg.Name, "", "", "")
		immediateDB, err = gorm.Open(sqlite.Open(immediateDSN), &gorm.Config{})
		if err != nil {
			return nil, nil, fmt.Errorf("connect sqlite (immediate): %w", err)
		}
	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %s", dbCfg.Driver)
	}

	logger.Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, immediateDB, nil
}
