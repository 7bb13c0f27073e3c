// Harrier pipeline - one-shot batch evaluation from the command line.
// Copyright (c) 2026 opensource.finance
// Licensed under the Apache License 2.0
//
// Usage:
//   go run cmd/pipeline/main.go -csv transactions.csv -rules rules.yaml
//
// This tool:
//   1. Reads a transaction ledger CSV and derives batch features
//   2. Evaluates the configured rules and scores the batch for anomalies
//   3. Optionally folds in analyst feedback labels
//   4. Prints the summary report as JSON
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/opensource-finance/harrier/internal/anomaly"
	"github.com/opensource-finance/harrier/internal/config"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/engine"
	"github.com/opensource-finance/harrier/internal/ingest"
	"github.com/opensource-finance/harrier/internal/report"
)

func main() {
	csvPath := flag.String("csv", "", "transaction ledger CSV (required)")
	rulesPath := flag.String("rules", "", "YAML ruleset (required)")
	feedbackPath := flag.String("feedback", "", "optional analyst feedback CSV (record_id,label)")
	configPath := flag.String("config", "", "optional YAML configuration file")
	findingsOut := flag.Bool("findings", false, "print the full findings document instead of the summary")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	if *csvPath == "" || *rulesPath == "" {
		fmt.Fprintln(os.Stderr, "usage: pipeline -csv <ledger.csv> -rules <rules.yaml> [-feedback <labels.csv>]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("failed to load configuration", err)
	}

	ruleset, err := config.LoadRuleSet(*rulesPath)
	if err != nil {
		fatal("failed to load ruleset", err)
	}

	records, err := ingest.LoadCSV(*csvPath)
	if err != nil {
		fatal("failed to read ledger", err)
	}
	ingest.DeriveFeatures(records)

	eng, err := engine.New(ruleset, anomaly.Params{
		Contamination: cfg.Engine.Contamination,
		MinBatchSize:  cfg.Engine.MinBatchSize,
		TopFeatures:   cfg.Engine.TopFeatures,
	}, cfg.Engine.MaxWorkers)
	if err != nil {
		fatal("failed to build engine", err)
	}

	findings, err := eng.Run(context.Background(), records)
	if err != nil {
		fatal("run failed", err)
	}

	var entries []domain.FeedbackEntry
	if *feedbackPath != "" {
		entries, err = loadFeedback(*feedbackPath)
		if err != nil {
			fatal("failed to read feedback", err)
		}
	}

	var out interface{} = report.Generate(records, findings, entries, cfg.Engine.TopAnomalies)
	if *findingsOut {
		out = findings
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fatal("failed to encode output", err)
	}
}

// loadFeedback reads analyst labels from a CSV with record_id and label
// columns. Unknown columns are ignored.
func loadFeedback(path string) ([]domain.FeedbackEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading feedback header: %w", err)
	}

	idx := map[string]int{}
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	idCol, ok := idx["record_id"]
	if !ok {
		idCol, ok = idx["txn_id"]
	}
	labelCol, labelOK := idx["label"]
	if !ok || !labelOK {
		return nil, fmt.Errorf("feedback CSV requires record_id and label columns")
	}

	var entries []domain.FeedbackEntry
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading feedback row: %w", err)
		}
		if idCol >= len(row) || labelCol >= len(row) {
			continue
		}
		entries = append(entries, domain.FeedbackEntry{
			RecordID: strings.TrimSpace(row[idCol]),
			Label:    strings.TrimSpace(row[labelCol]),
		})
	}
	return entries, nil
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
