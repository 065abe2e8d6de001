package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/packfinderz-settlement/pkg/config"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "up|down|status|version|create|validate|automigrate")
	dir := flag.String("dir", "", "migrations directory; empty uses the migrations built into the binary")
	name := flag.String("name", "", "migration name (create)")
	version := flag.String("version", "", "target version YYYYMMDDHHMMSS (version)")
	flag.Parse()

	// create and validate work on files only and skip config.
	switch *cmd {
	case "create":
		target := *dir
		if target == "" {
			target = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(target, *name)
		exitOnErr("create migration", err)
		fmt.Println("created migration:", path)
		return
	case "validate":
		exitOnErr("validate migrations", migrate.Validate(migrate.Source(*dir)))
		fmt.Println("migrations valid")
		return
	}

	cfg, err := config.Load()
	exitOnErr("load config", err)
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":    cfg.App.Env,
		"cmd":    *cmd,
		"sqlite": cfg.FeatureFlags.UseSQLite,
	})

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags, logg)
	exitOnErr("bootstrap database", err)
	defer dbClient.Close()

	// SQLite has no goose history; the schema comes from the models.
	if *cmd == "automigrate" || cfg.FeatureFlags.UseSQLite {
		exitOnErr("automigrate", migrate.AutoMigrateModels(ctx, dbClient))
		logg.Info(ctx, "migrate.automigrate_complete")
		return
	}

	sqlDB, err := dbClient.DB().DB()
	exitOnErr("extract sql.DB", err)

	var args []string
	if *cmd == "version" {
		if *version == "" {
			exitOnErr("version", fmt.Errorf("missing -version"))
		}
		args = append(args, *version)
	}
	exitOnErr("migrate "+*cmd, migrate.Run(ctx, sqlDB, migrate.Source(*dir), *cmd, args...))
	logg.Info(ctx, "migrate.complete")
}

func exitOnErr(step string, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", step, err)
	os.Exit(1)
}
