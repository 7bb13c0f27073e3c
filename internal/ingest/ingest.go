// Package ingest loads record batches from CSV ledgers and derives the
// numeric features the anomaly scorer consumes.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Timestamp layouts accepted in the ledger, tried in order.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// LoadCSV reads a ledger file. The header must contain a txn_id column;
// all other columns are optional.
func LoadCSV(path string) ([]*domain.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open ledger: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses ledger rows from r.
func ReadCSV(r io.Reader) ([]*domain.Record, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &domain.ConfigurationError{Field: "ledger", Reason: "ledger is empty"}
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["txn_id"]; !ok {
		return nil, &domain.ConfigurationError{Field: "ledger", Reason: "missing required column txn_id"}
	}

	var records []*domain.Record
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: read row %d: %w", line+1, err)
		}
		line++

		get := func(name string) string {
			idx, ok := cols[name]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		rec := &domain.Record{
			ID:            get("txn_id"),
			Currency:      get("currency"),
			ClientID:      get("client_id"),
			OriginCountry: get("origin_country"),
			DestCountry:   get("dest_country"),
			Features:      map[string]domain.FeatureValue{},
		}
		if rec.ID == "" {
			return nil, &domain.ConfigurationError{Field: "txn_id", Reason: fmt.Sprintf("row %d has an empty txn_id", line)}
		}
		if rec.OriginCountry == "" {
			rec.OriginCountry = get("country")
		}

		if raw := get("amount"); raw != "" {
			amount, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, &domain.ConfigurationError{Field: "amount", Reason: fmt.Sprintf("row %d: %q is not a number", line, raw)}
			}
			rec.Amount = amount
		}

		if raw := get("timestamp"); raw != "" {
			if ts, ok := parseTimestamp(raw); ok {
				rec.Timestamp = ts
			}
		}

		records = append(records, rec)
	}
	return records, nil
}

func parseTimestamp(raw string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// DeriveFeatures fills each record's feature vector from batch context:
// the raw amount, the hour of day, and how many records in the batch
// share the record's client. A feature whose input is absent is marked
// missing rather than defaulted, so the scorer can exclude it from fit.
func DeriveFeatures(records []*domain.Record) {
	clientCounts := make(map[string]int, len(records))
	for _, rec := range records {
		if rec.ClientID != "" {
			clientCounts[rec.ClientID]++
		}
	}

	for _, rec := range records {
		if rec.Features == nil {
			rec.Features = map[string]domain.FeatureValue{}
		}
		rec.Features["amount"] = domain.FeatureValue{Value: rec.Amount}

		if rec.Timestamp.IsZero() {
			rec.Features["txn_hour"] = domain.FeatureValue{Missing: true}
		} else {
			rec.Features["txn_hour"] = domain.FeatureValue{Value: float64(rec.Timestamp.Hour())}
		}

		if rec.ClientID == "" {
			rec.Features["client_velocity"] = domain.FeatureValue{Missing: true}
		} else {
			rec.Features["client_velocity"] = domain.FeatureValue{Value: float64(clientCounts[rec.ClientID])}
		}
	}
}
