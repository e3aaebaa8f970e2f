package main

import (
	"field-route-planner/internal/adapters/repositories"
	"field-route-planner/internal/config"
	"field-route-planner/internal/platform/db"
	"field-route-planner/internal/platform/obs"
	"flag"

	"github.com/rs/zerolog/log"
)

// dbtool initializes the planning schema and loads a fleet seed file.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	obs.SetupLogger(cfg.LogLevel, true)

	seedPath := flag.String("seed", cfg.SeedPath, "fleet seed YAML file; empty skips seeding")
	schemaOnly := flag.Bool("schema-only", false, "only create the schema")
	flag.Parse()

	conn, err := db.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer conn.Close()

	log.Info().Str("db_driver", cfg.DBDriver).Msg("initializing database schema")
	if err := repositories.InitSchema(conn); err != nil {
		log.Fatal().Err(err).Msg("schema initialization failed")
	}
	log.Info().Msg("schema ready")

	if *schemaOnly || *seedPath == "" {
		return
	}

	log.Info().Str("path", *seedPath).Msg("seeding database")
	if err := repositories.SeedFromYAML(conn, cfg.DBDriver, *seedPath); err != nil {
		log.Fatal().Err(err).Msg("seeding failed")
	}
	log.Info().Msg("seeding complete")
}
