package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/itemloc_backend/config"
	"github.com/mmdatafocus/itemloc_backend/models"
	"github.com/mmdatafocus/itemloc_backend/utils"
	"github.com/mmdatafocus/itemloc_backend/workflow"
)

// itemloc-series-cleanup deletes distribution series that were never posted, e.g. after
// a client crashed between allocation and posting. Lot/serial detail written for those
// series is removed too.
//
// Dry-run (default): list series only
//   go run ./cmd/itemloc-series-cleanup -business-id=... -older-than=24h
//
// Execute:
//   go run ./cmd/itemloc-series-cleanup -business-id=... -older-than=24h -dry-run=false -confirm=DELETE
func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	olderThan := flag.Duration("older-than", 24*time.Hour, "Only series whose root record is older than this")
	dryRun := flag.Bool("dry-run", true, "List only (no writes)")
	confirm := flag.String("confirm", "", "Type DELETE to proceed when dry-run=false")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}
	if *olderThan <= 0 {
		fmt.Fprintln(os.Stderr, "--older-than must be positive")
		os.Exit(1)
	}
	if !*dryRun && strings.TrimSpace(*confirm) != "DELETE" {
		fmt.Fprintln(os.Stderr, "set --confirm=DELETE to proceed")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := utils.SetBusinessIdInContext(context.Background(), strings.TrimSpace(*businessID))
	store := models.DefaultGormStore()
	cutoff := time.Now().Add(-*olderThan)

	series, err := store.ListAbandonedSeries(ctx, cutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan failed: %v\n", err)
		os.Exit(1)
	}
	if len(series) == 0 {
		fmt.Println("no abandoned series found")
		return
	}
	fmt.Printf("found %d unposted series created before %s\n", len(series), cutoff.Format(time.RFC3339))

	if *dryRun {
		for _, s := range series {
			fmt.Printf("series=%d\n", s)
		}
		return
	}

	engine := workflow.NewEngine(store, workflow.WithLogger(config.GetLogger()))
	deleted := 0
	for _, s := range series {
		if err := engine.DeleteSeries(ctx, s, true); err != nil {
			fmt.Fprintf(os.Stderr, "delete failed for series=%d: %v\n", s, err)
			os.Exit(1)
		}
		deleted++
	}
	fmt.Printf("deleted %d series\n", deleted)
}
