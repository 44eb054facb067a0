package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"ms-ordering/internal/config"
	"ms-ordering/internal/database"
	"ms-ordering/internal/database/migrations"
	"ms-ordering/internal/logger"
)

func main() {
	down := flag.Bool("down", false, "roll back every migration")
	to := flag.Int("to", -1, "migrate up or down to this version")
	dir := flag.String("dir", "", "migrations directory (default MIGRATIONS_DIR)")
	flag.Parse()

	log := logger.NewLogger("ms-ordering-migrate")
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()
	if *dir != "" {
		cfg.Database.MigrationsDir = *dir
	}

	ctx := context.Background()
	bunDB, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}

	runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{MigrationsDir: cfg.Database.MigrationsDir}, log)
	switch {
	case *down:
		err = runner.MigrateDown()
	case *to >= 0:
		err = runner.MigrateTo(uint(*to))
	default:
		err = runner.RunMigrations()
	}
	if closeErr := runner.Close(); closeErr != nil {
		log.Warn("MIGRATE", closeErr.Error())
	}
	if err != nil {
		log.Error("MIGRATE", err.Error())
		os.Exit(1)
	}
	log.Info("MIGRATE", fmt.Sprintf("Migrations in %s applied", cfg.Database.MigrationsDir))
}
