package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"bookstand/internal/api"
	"bookstand/internal/authors"
	"bookstand/internal/catalog"
	"bookstand/internal/history"
	"bookstand/internal/inventory"
	"bookstand/internal/prefs"
	"bookstand/internal/staff"
	"bookstand/internal/telemetry"
	"bookstand/pkg/docstore"
)

func main() {
	_ = godotenv.Load()
	ctx := context.Background()

	shutdownTracing, err := telemetry.Setup(ctx, "bookstand")
	if err != nil {
		log.Fatalf("Failed to set up telemetry: %v", err)
	}
	defer shutdownTracing(context.Background())

	store, closeStore, err := openStore(ctx)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	prefStore, err := prefs.Open(getEnv("BOOKSTAND_PREFS", "bookstand-prefs.json"))
	if err != nil {
		log.Fatalf("Failed to open prefs: %v", err)
	}

	mirror := catalog.NewMirror(store)
	recorder := history.NewRecorder(store)
	pager := history.NewPager(store, history.DefaultPageSize)
	sweeper := history.NewSweeper(store, prefStore)
	registry := authors.NewRegistry(store)
	staffSvc := staff.NewService(store, []byte(getEnv("JWT_SECRET", "dev_secret_change_in_prod")), 10*time.Minute)
	books := inventory.NewService(store, mirror, recorder, registry)

	// The retention sweep runs opportunistically at startup, at most
	// once per interval. It is not a background timer.
	if deleted, ran, err := sweeper.RunIfDue(ctx); err != nil {
		log.Printf("History cleanup failed after deleting %d entries: %v", deleted, err)
	} else if ran {
		log.Printf("History cleanup deleted %d entries", deleted)
	}

	if err := mirror.Start(ctx); err != nil {
		log.Fatalf("Failed to start catalog mirror: %v", err)
	}
	defer mirror.Stop()
	if err := pager.Start(ctx); err != nil {
		log.Fatalf("Failed to start history pager: %v", err)
	}
	defer pager.Stop()
	if err := registry.Start(ctx); err != nil {
		log.Fatalf("Failed to start author registry: %v", err)
	}
	defer registry.Stop()

	server := api.NewServer(mirror, books, pager, sweeper, registry, staffSvc, prefStore)

	port := getEnv("PORT", "8080")
	fmt.Printf("🚀 Starting bookstand on port %s\n", port)
	log.Fatal(http.ListenAndServe(":"+port, server.Router()))
}

// openStore connects to Postgres when DATABASE_URL is set, retrying with
// exponential backoff while the database comes up; otherwise it falls
// back to the in-memory store for local development.
func openStore(ctx context.Context) (docstore.Store, func(), error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Print("DATABASE_URL not set, using in-memory store")
		return docstore.NewMemory(), func() {}, nil
	}

	db, err := backoff.Retry(ctx, func() (*sqlx.DB, error) {
		db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
		if err != nil {
			log.Printf("Waiting for database: %v", err)
			return nil, err
		}
		return db, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(10))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	store := docstore.NewPostgres(db, dsn)
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		db.Close()
		return nil, nil, err
	}
	return store, func() {
		store.Close()
		db.Close()
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
