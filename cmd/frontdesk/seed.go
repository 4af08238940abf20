package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/nugget/frontdesk/internal/booking"
)

// seedResult is the JSON form of the seed report.
type seedResult struct {
	Database string `json:"database"`
	Added    int    `json:"added"`
	Rooms    int    `json:"rooms"`
}

// runSeed creates the booking schema and inserts the default room
// inventory. Rooms already present are left untouched, so running it
// twice is harmless.
func runSeed(ctx context.Context, stdout io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := booking.NewStore(db)
	if err != nil {
		return fmt.Errorf("booking database %s: %w", cfg.Database.Path, err)
	}
	rooms := booking.DefaultRooms()
	added, err := store.Seed(ctx, rooms)
	if err != nil {
		return fmt.Errorf("seed rooms: %w", err)
	}

	res := seedResult{Database: cfg.Database.Path, Added: added, Rooms: len(rooms)}
	if outputFmt == "json" {
		return json.NewEncoder(stdout).Encode(res)
	}
	fmt.Fprintf(stdout, "Seeded %d of %d rooms into %s\n", res.Added, res.Rooms, res.Database)
	return nil
}
