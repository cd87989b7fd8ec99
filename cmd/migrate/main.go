package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/loceal-orders/internal/catalog"
	"github.com/ariefcatur/loceal-orders/internal/config"
	"github.com/ariefcatur/loceal-orders/internal/logx"
	"github.com/ariefcatur/loceal-orders/internal/postgres"
)

func main() {
	seed := flag.String("seed", "", "optional products JSON file to upsert after migrating")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	logx.Setup(cfg.LogLevel)
	log := logx.New("migrate")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("db connect", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db); err != nil {
		log.Error("migrate", "error", err.Error())
		os.Exit(1)
	}
	log.Info("schema applied")

	path := *seed
	if path == "" {
		path = cfg.SeedFile
	}
	if path == "" {
		return
	}
	ps, err := catalog.Load(path)
	if err != nil {
		log.Error("load seed", "path", path, "error", err.Error())
		os.Exit(1)
	}
	if err := postgres.NewStore(db).UpsertProducts(ctx, ps); err != nil {
		log.Error("seed products", "error", err.Error())
		os.Exit(1)
	}
	log.Info("products seeded", "count", len(ps))
}
