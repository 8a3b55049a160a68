// ABOUTME: Migration utility for copying deals between storage backends
// ABOUTME: Moves pipeline data from SQLite to charm KV or back, with dry-run and backup

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deangilmoreremix/update3.0-new-sub002/charm"
	"github.com/deangilmoreremix/update3.0-new-sub002/config"
	"github.com/deangilmoreremix/update3.0-new-sub002/db"
	"github.com/deangilmoreremix/update3.0-new-sub002/logging"
	"github.com/deangilmoreremix/update3.0-new-sub002/models"
	"github.com/deangilmoreremix/update3.0-new-sub002/pipeline"
)

func main() {
	from := flag.String("from", config.BackendSQLite, "Source backend (sqlite or charm)")
	to := flag.String("to", config.BackendCharm, "Destination backend (sqlite or charm)")
	dbPath := flag.String("db", "", "SQLite database path (default from config)")
	userID := flag.String("user", "", "Only copy deals owned by this user")
	dryRun := flag.Bool("dry-run", false, "Show what would happen without making changes")
	backup := flag.Bool("backup", true, "Back up the SQLite file before writing to it")
	flag.Parse()

	logger, _ := logging.New(os.Stderr, "info")

	if err := run(logger, *from, *to, *dbPath, *userID, *dryRun, *backup); err != nil {
		logger.Fatal("migration failed", "err", err)
	}
	logger.Info("migration completed successfully")
}

func run(logger *log.Logger, from, to, dbPath, userID string, dryRun, backup bool) error {
	if from == to {
		return fmt.Errorf("source and destination are both %s", from)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if dbPath == "" {
		dbPath = cfg.DBPath
	}

	if to == config.BackendSQLite && backup && !dryRun {
		if err := backupFile(logger, dbPath); err != nil {
			return err
		}
	}

	gateways := make(map[string]pipeline.Gateway)
	for _, backend := range []string{from, to} {
		switch backend {
		case config.BackendSQLite:
			database, err := db.OpenDatabase(dbPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer func() { _ = database.Close() }()
			gateways[backend] = db.NewDealGateway(database)
		case config.BackendCharm:
			client, err := charm.GetClient()
			if err != nil {
				return fmt.Errorf("failed to open charm kv: %w", err)
			}
			gateways[backend] = charm.NewDealGateway(client)
		default:
			return fmt.Errorf("unknown backend %q", backend)
		}
	}

	n, err := copyDeals(context.Background(), logger, gateways[from], gateways[to], userID, dryRun)
	if err != nil {
		return err
	}
	logger.Info("copied deals", "count", n, "from", from, "to", to, "dry_run", dryRun)
	return nil
}

// copyDeals creates every source deal missing from dst, keeping its ID,
// timestamps and stage. It returns how many deals were (or would be) copied.
func copyDeals(ctx context.Context, logger *log.Logger, src, dst pipeline.Gateway, userID string, dryRun bool) (int, error) {
	records, err := src.List(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list source deals: %w", err)
	}

	existing, err := dst.List(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list destination deals: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, rec := range existing {
		seen[fmt.Sprint(rec[models.FieldID])] = true
	}

	copied := 0
	for _, rec := range records {
		d := pipeline.NormalizeRecord(rec, time.Now().UTC())
		if d.ID == "" || seen[d.ID] {
			logger.Debug("skipping deal", "id", d.ID)
			continue
		}
		if dryRun {
			logger.Info("[DRY RUN] would copy deal", "id", d.ID, "title", d.Title, "stage", d.Stage)
			copied++
			continue
		}
		if _, err := dst.Create(ctx, pipeline.DealRecord(d)); err != nil {
			return copied, fmt.Errorf("failed to copy deal %s: %w", d.ID, err)
		}
		seen[d.ID] = true
		copied++
	}
	return copied, nil
}

func backupFile(logger *log.Logger, path string) error {
	input, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read database: %w", err)
	}

	backupPath := fmt.Sprintf("%s.backup.%s", path, time.Now().Format("20060102-150405"))
	if err := os.WriteFile(backupPath, input, 0600); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	logger.Info("backup created", "path", backupPath)
	return nil
}
