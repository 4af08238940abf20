package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/nugget/frontdesk/internal/usage"
)

// usageReport is the JSON form of runUsage's output.
type usageReport struct {
	Since   time.Time                `json:"since"`
	Total   usage.Summary            `json:"total"`
	ByModel map[string]usage.Summary `json:"by_model"`
}

// runUsage prints token and conversation totals since local midnight.
func runUsage(ctx context.Context, stdout io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		return errors.New("usage is recorded with conversation history; set history.enabled")
	}

	db, err := openDatabase(cfg.History.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := usage.NewStore(db, nil)
	if err != nil {
		return err
	}

	now := time.Now()
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	total, err := store.Summary(ctx, since, now.Add(time.Second))
	if err != nil {
		return err
	}
	byModel, err := store.SummaryByModel(ctx, since, now.Add(time.Second))
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(usageReport{Since: since, Total: total, ByModel: byModel})
	}

	fmt.Fprintf(stdout, "Since %s\n", since.Format(time.DateTime))
	fmt.Fprintf(stdout, "  conversations: %d\n", total.Conversations)
	fmt.Fprintf(stdout, "  turns:         %d (%d failed)\n", total.Turns, total.FailedTurns)
	fmt.Fprintf(stdout, "  tokens:        %d in, %d out\n", total.TotalInputTokens, total.TotalOutputTokens)

	models := make([]string, 0, len(byModel))
	for m := range byModel {
		models = append(models, m)
	}
	sort.Strings(models)
	for _, m := range models {
		s := byModel[m]
		fmt.Fprintf(stdout, "  %s: %d turns, %d in, %d out\n", m, s.Turns, s.TotalInputTokens, s.TotalOutputTokens)
	}
	return nil
}
