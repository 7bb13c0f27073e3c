// Package domain defines the core types and interfaces for Harrier.
package domain

import (
	"sort"
	"time"
)

// FeatureValue is one numeric feature derived from a raw transaction row.
// Missing values are represented explicitly; a feature key is never omitted
// from a record once it exists anywhere in the batch.
type FeatureValue struct {
	Value   float64 `json:"value"`
	Missing bool    `json:"missing,omitempty"`
}

// Record is the normalized in-memory representation of one transaction.
// It is created once during ingestion and read-only afterwards.
type Record struct {
	// ID is unique across the batch and immutable after creation.
	ID string `json:"id"`

	// Financial details
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Jurisdiction pair for cross-border detection
	OriginCountry string `json:"originCountry"`
	DestCountry   string `json:"destCountry"`

	// ClientID is nullable: the empty string means "missing", and that
	// nullness is itself a signal the missing-field rule kind detects.
	ClientID string `json:"clientId,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Features is the numeric feature mapping used by the anomaly scorer.
	// Every record in a batch carries the same key set.
	Features map[string]FeatureValue `json:"features"`
}

// Field returns the named scalar field for missing-field and custom-pattern
// checks. The bool reports whether the field name is known at all.
func (r *Record) Field(name string) (string, bool) {
	switch name {
	case "id", "txn_id":
		return r.ID, true
	case "client_id":
		return r.ClientID, true
	case "currency":
		return r.Currency, true
	case "origin_country":
		return r.OriginCountry, true
	case "dest_country":
		return r.DestCountry, true
	default:
		return "", false
	}
}

// FeatureKeys returns the sorted feature-key set of a batch, taken from the
// first record. All iteration over features goes through this to keep runs
// byte-identical.
func FeatureKeys(records []*Record) []string {
	if len(records) == 0 {
		return nil
	}
	keys := make([]string, 0, len(records[0].Features))
	for k := range records[0].Features {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
