package main

import (
	"context"
	"fmt"
	"log"

	"finserv-backend/internal/config"
	"finserv-backend/internal/server"
	"finserv-backend/internal/store"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, driver: %s)", cfg.Server.Port, cfg.Database.Driver)

	var db store.Resolver
	if cfg.Database.IsMemory() {
		// Volatile store for local development and demos.
		db = store.NewMemDB()
		log.Println("Using in-memory store")
	} else {
		pg, err := store.New(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pg.Close()
		if err := pg.Bootstrap(ctx, server.Collections...); err != nil {
			log.Fatalf("Failed to bootstrap collections: %v", err)
		}
		log.Println("Database connected, collections ready")
		db = pg
	}

	app := server.New(*cfg, db)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	log.Fatal(app.Listen(addr))
}
