package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ignite/adpulse/internal/api"
	"github.com/ignite/adpulse/internal/cache"
	"github.com/ignite/adpulse/internal/collector"
	"github.com/ignite/adpulse/internal/config"
	"github.com/ignite/adpulse/internal/reader"
	"github.com/ignite/adpulse/internal/repository/postgres"
	"github.com/ignite/adpulse/internal/upstream"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	slash := strings.Index(rest, "/")
	if slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	log.Println("AdPulse metrics server starting (cmd/server/main.go)")

	// Load configuration
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	// Pre-flight check: verify the target port is available
	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", port)

	// Archive tier (PostgreSQL)
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Database unreachable at %s: %v", extractHost(cfg.Database.URL), err)
	}
	pingCancel()
	log.Printf("Connected to PostgreSQL at %s", extractHost(cfg.Database.URL))

	archiveRepo := postgres.NewArchiveRepo(db)
	tenantRepo := postgres.NewTenantRepo(db)

	// Current-period tier (Redis)
	currentStore, err := cache.NewCurrentStoreFromURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	guard := cache.NewGuard(currentStore.Client())

	// Upstream fetcher
	var fetcher upstream.Fetcher
	if cfg.Upstream.UseStub {
		log.Println("[upstream] Using deterministic stub fetcher (dev profile)")
		fetcher = upstream.Stub{}
	} else {
		log.Fatal("No upstream fetcher configured: link a platform gateway or set upstream.use_stub for development")
	}

	// Refresh orchestrator
	coll := collector.New(fetcher, currentStore, archiveRepo, tenantRepo, guard, cfg)

	// Read orchestrator
	rd := reader.New(currentStore, archiveRepo, tenantRepo, coll,
		cfg.Cache.StalenessThreshold(), cfg.Cache.RetentionMonths)

	// API server
	server := api.NewServer(cfg.Server, rd, coll, tenantRepo, archiveRepo, cfg.Platforms, cfg.Cache.RetentionMonths)
	coll.SetMetrics(server.Metrics())

	ctx, cancel := context.WithCancel(context.Background())
	go coll.Start(ctx)

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized — server is ready")

	<-done
	log.Println("Shutting down...")

	// Cancel background tasks
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	if err := currentStore.Close(); err != nil {
		log.Printf("Redis close error: %v", err)
	}
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Server stopped")
}
