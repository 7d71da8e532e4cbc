package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/itemloc_backend/config"
	"github.com/mmdatafocus/itemloc_backend/models"
)

// itemloc-migrate creates or updates the distribution tables. With -seed-redis the
// redis series counter is moved past the highest series already in the ledger, which
// is needed before switching SERIES_SEQUENCE to redis.
//
//   go run ./cmd/itemloc-migrate
//   go run ./cmd/itemloc-migrate -seed-redis
func main() {
	seedRedis := flag.Bool("seed-redis", false, "Seed the redis series counter from the ledger")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	models.MigrateTable()
	fmt.Println("migration complete")

	if !*seedRedis {
		return
	}
	config.ConnectRedisWithRetry()
	if config.GetRedisDB() == nil {
		fmt.Fprintln(os.Stderr, "redis not initialized")
		os.Exit(1)
	}

	var floor int
	if err := db.Model(&models.ItemlocDist{}).Select("COALESCE(MAX(series), 0)").Scan(&floor).Error; err != nil {
		fmt.Fprintf(os.Stderr, "read max series failed: %v\n", err)
		os.Exit(1)
	}
	var seqMax int
	if err := db.Model(&models.ItemlocSeriesSeq{}).Select("COALESCE(MAX(id), 0)").Scan(&seqMax).Error; err != nil {
		fmt.Fprintf(os.Stderr, "read sequence table failed: %v\n", err)
		os.Exit(1)
	}
	if seqMax > floor {
		floor = seqMax
	}
	if err := models.NewRedisSeriesSequence(config.GetRedisDB()).Seed(context.Background(), floor); err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("redis series counter seeded to at least %d\n", floor)
}
