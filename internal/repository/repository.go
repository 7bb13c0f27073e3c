// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// ruleParams carries the kind-specific rule fields in one JSON column so
// the schema does not change when a rule kind grows a parameter.
type ruleParams struct {
	Threshold  *float64                  `json:"threshold,omitempty"`
	Field      string                    `json:"field,omitempty"`
	Pairs      []domain.JurisdictionPair `json:"pairs,omitempty"`
	Symmetric  bool                      `json:"symmetric,omitempty"`
	Expression string                    `json:"expression,omitempty"`
}

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun stores a run and its findings with tenant isolation.
func (r *SQLRepository) SaveRun(ctx context.Context, tenantID string, run *domain.Run) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if run.ID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	findings, err := json.Marshal(run.Findings)
	if err != nil {
		return fmt.Errorf("failed to encode findings: %w", err)
	}

	query := `
		INSERT INTO runs (id, tenant_id, created_at, record_count, findings)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			created_at = excluded.created_at,
			record_count = excluded.record_count,
			findings = excluded.findings
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		run.ID, tenantID, run.CreatedAt, run.RecordCount, string(findings),
	)
	return err
}

// GetRun retrieves a run by ID with tenant isolation.
func (r *SQLRepository) GetRun(ctx context.Context, tenantID string, runID string) (*domain.Run, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, created_at, record_count, findings
		FROM runs
		WHERE tenant_id = ? AND id = ?
	`

	var run domain.Run
	var findings string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, runID).Scan(
		&run.ID, &run.TenantID, &run.CreatedAt, &run.RecordCount, &findings,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(findings), &run.Findings); err != nil {
		return nil, fmt.Errorf("failed to parse findings for run %s: %w", run.ID, err)
	}
	return &run, nil
}

// ListRuns retrieves the most recent runs for a tenant.
func (r *SQLRepository) ListRuns(ctx context.Context, tenantID string, limit int) ([]*domain.Run, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, tenant_id, created_at, record_count, findings
		FROM runs
		WHERE tenant_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		var run domain.Run
		var findings string

		if err := rows.Scan(&run.ID, &run.TenantID, &run.CreatedAt, &run.RecordCount, &findings); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(findings), &run.Findings); err != nil {
			return nil, fmt.Errorf("failed to parse findings for run %s: %w", run.ID, err)
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// SaveRule stores a rule definition with tenant isolation. Saving an
// existing name replaces the stored definition.
func (r *SQLRepository) SaveRule(ctx context.Context, tenantID string, rule *domain.Rule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule.Name == "" {
		return fmt.Errorf("%w: rule name is required", ErrInvalidInput)
	}

	params, err := json.Marshal(ruleParams{
		Threshold:  rule.Threshold,
		Field:      rule.Field,
		Pairs:      rule.Pairs,
		Symmetric:  rule.Symmetric,
		Expression: rule.Expression,
	})
	if err != nil {
		return fmt.Errorf("failed to encode rule params: %w", err)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rules (name, tenant_id, kind, severity, params, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, tenant_id) DO UPDATE SET
			kind = excluded.kind,
			severity = excluded.severity,
			params = excluded.params,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.Name, tenantID, string(rule.Kind), string(rule.Severity),
		string(params), enabled, now, now,
	)
	return err
}

// GetRule retrieves a rule by name with tenant isolation.
func (r *SQLRepository) GetRule(ctx context.Context, tenantID string, name string) (*domain.Rule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT name, kind, severity, params, enabled
		FROM rules
		WHERE tenant_id = ? AND name = ?
	`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListRules retrieves all rule definitions for a tenant, enabled or not,
// ordered by name.
func (r *SQLRepository) ListRules(ctx context.Context, tenantID string) ([]*domain.Rule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT name, kind, severity, params, enabled
		FROM rules
		WHERE tenant_id = ?
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ruleset []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		ruleset = append(ruleset, rule)
	}
	return ruleset, rows.Err()
}

// DeleteRule removes a rule definition.
func (r *SQLRepository) DeleteRule(ctx context.Context, tenantID string, name string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `DELETE FROM rules WHERE tenant_id = ? AND name = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, name)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveFeedback appends one analyst label.
func (r *SQLRepository) SaveFeedback(ctx context.Context, tenantID string, entry *domain.FeedbackEntry) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if entry.RecordID == "" || entry.Label == "" {
		return fmt.Errorf("%w: record id and label are required", ErrInvalidInput)
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `INSERT INTO feedback (tenant_id, record_id, label, created_at) VALUES (?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, entry.RecordID, entry.Label, createdAt)
	return err
}

// ListFeedback retrieves all feedback for a tenant in insertion order.
func (r *SQLRepository) ListFeedback(ctx context.Context, tenantID string) ([]*domain.FeedbackEntry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT record_id, label, created_at
		FROM feedback
		WHERE tenant_id = ?
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.FeedbackEntry
	for rows.Next() {
		var entry domain.FeedbackEntry
		if err := rows.Scan(&entry.RecordID, &entry.Label, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.Rule, error) {
	var rule domain.Rule
	var kind, severity, params string
	var enabled int

	if err := row.Scan(&rule.Name, &kind, &severity, &params, &enabled); err != nil {
		return nil, err
	}

	var p ruleParams
	if err := json.Unmarshal([]byte(params), &p); err != nil {
		return nil, fmt.Errorf("failed to parse params for rule %s: %w", rule.Name, err)
	}

	rule.Kind = domain.RuleKind(kind)
	rule.Severity = domain.Severity(severity)
	rule.Threshold = p.Threshold
	rule.Field = p.Field
	rule.Pairs = p.Pairs
	rule.Symmetric = p.Symmetric
	rule.Expression = p.Expression
	rule.Enabled = enabled == 1
	return &rule, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
