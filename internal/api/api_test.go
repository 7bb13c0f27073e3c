package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/anomaly"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/engine"
	"github.com/opensource-finance/harrier/internal/repository"
)

func testEngineConfig() domain.EngineConfig {
	return domain.EngineConfig{
		Contamination: 0.1,
		MinBatchSize:  10,
		TopFeatures:   3,
		TopAnomalies:  5,
		MaxWorkers:    4,
	}
}

func testEngine(t *testing.T) *engine.Engine {
	t.Helper()

	// Only very large amounts trigger alerts so normal test batches
	// come back clear.
	threshold := 100000.0
	ruleset := []*domain.Rule{
		{
			Name:      "large-amount",
			Kind:      domain.KindAmountThreshold,
			Severity:  domain.SeverityHigh,
			Threshold: &threshold,
			Enabled:   true,
		},
		{
			Name:     "client-required",
			Kind:     domain.KindMissingField,
			Severity: domain.SeverityMedium,
			Field:    "client_id",
			Enabled:  true,
		},
	}
	eng, err := engine.New(ruleset, anomaly.Params{
		Contamination: 0.1,
		MinBatchSize:  10,
		TopFeatures:   3,
	}, 4)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return eng
}

// createTestServer builds a server without backing services, for handler
// and middleware behavior that does not touch persistence.
func createTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
	return NewServer(cfg, nil, nil, nil, testEngine(t), testEngineConfig(), "test-v1")
}

// createFullTestServer wires a SQLite repository, an in-memory cache, and a
// channel bus, for endpoints that persist state.
func createFullTestServer(t *testing.T) (*Server, domain.EventBus) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	runCache, err := cache.New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { runCache.Close() })

	eventBus, err := bus.New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 16})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(func() { eventBus.Close() })

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
	server := NewServer(cfg, repo, runCache, eventBus, testEngine(t), testEngineConfig(), "test-v1")
	return server, eventBus
}

func postJSON(t *testing.T, server *Server, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "tenant-001")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func getJSON(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-Tenant-ID", "tenant-001")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func batchOfRecords(n int) []RecordInput {
	records := make([]RecordInput, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, RecordInput{
			ID:            fmt.Sprintf("TXN%03d", i+1),
			Amount:        100 + float64(i),
			Currency:      "USD",
			OriginCountry: "US",
			DestCountry:   "GB",
			ClientID:      fmt.Sprintf("C%d", i%3),
		})
	}
	return records
}

func TestCreateRunEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("SuccessfulRun", func(t *testing.T) {
		rr := postJSON(t, server, "/runs", RunRequest{Records: batchOfRecords(3)})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp RunResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.RunID == "" {
			t.Error("expected runId in response")
		}
		if resp.Status != "completed" {
			t.Errorf("expected status completed, got %s", resp.Status)
		}
		if resp.RecordCount != 3 {
			t.Errorf("expected 3 records, got %d", resp.RecordCount)
		}
		if got := resp.Counts.Clear + resp.Counts.Review + resp.Counts.Critical; got != 3 {
			t.Errorf("expected tier counts to sum to 3, got %d", got)
		}
		if resp.Findings == nil || len(resp.Findings.Verdicts) != 3 {
			t.Error("expected findings with one verdict per record")
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Metadata.Version)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
	})

	t.Run("CriticalVerdict", func(t *testing.T) {
		records := batchOfRecords(2)
		records[0].Amount = 500000

		rr := postJSON(t, server, "/runs", RunRequest{Records: records})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp RunResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Counts.Critical != 1 {
			t.Errorf("expected 1 critical verdict, got %d", resp.Counts.Critical)
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")
		// No X-Tenant-ID header

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("EmptyRecords", func(t *testing.T) {
		rr := postJSON(t, server, "/runs", RunRequest{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingRecordID", func(t *testing.T) {
		records := batchOfRecords(2)
		records[1].ID = ""

		rr := postJSON(t, server, "/runs", RunRequest{Records: records})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("DuplicateRecordID", func(t *testing.T) {
		records := batchOfRecords(2)
		records[1].ID = records[0].ID

		rr := postJSON(t, server, "/runs", RunRequest{Records: records})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		records := batchOfRecords(1)
		records[0].Amount = -100

		rr := postJSON(t, server, "/runs", RunRequest{Records: records})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InlineRulesOverride", func(t *testing.T) {
		// A stricter inline threshold catches an amount the persisted
		// ruleset would let through.
		records := batchOfRecords(3)
		records[0].Amount = 5000

		threshold := 1000.0
		rr := postJSON(t, server, "/runs", RunRequest{
			Records: records,
			Rules: []*domain.Rule{
				{
					Name:      "strict-amount",
					Kind:      domain.KindAmountThreshold,
					Severity:  domain.SeverityHigh,
					Threshold: &threshold,
					Enabled:   true,
				},
			},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp RunResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Counts.Critical != 1 {
			t.Errorf("expected 1 critical verdict from inline rule, got %d", resp.Counts.Critical)
		}
	})

	t.Run("InlineRulesInvalid", func(t *testing.T) {
		rr := postJSON(t, server, "/runs", RunRequest{
			Records: batchOfRecords(1),
			Rules: []*domain.Rule{
				{Name: "broken", Kind: domain.KindAmountThreshold, Severity: domain.SeverityHigh, Enabled: true},
			},
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for rule without threshold, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := postJSON(t, server, "/runs", RunRequest{Records: batchOfRecords(1)})

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestAsyncRunSubmission(t *testing.T) {
	server, eventBus := createFullTestServer(t)

	received := make(chan *domain.Message, 1)
	_, err := eventBus.Subscribe(context.Background(), "tenant-001", domain.TopicRunSubmitted, func(ctx context.Context, msg *domain.Message) error {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	rr := postJSON(t, server, "/runs", RunRequest{Records: batchOfRecords(2), Async: true})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp RunResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.RunID == "" {
		t.Error("expected runId in response")
	}
	if resp.Status != "accepted" {
		t.Errorf("expected status accepted, got %s", resp.Status)
	}

	select {
	case msg := <-received:
		if msg.Topic != domain.TopicRunSubmitted {
			t.Errorf("expected topic %s, got %s", domain.TopicRunSubmitted, msg.Topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for run submission event")
	}

	t.Run("InlineRulesRejected", func(t *testing.T) {
		threshold := 1000.0
		rr := postJSON(t, server, "/runs", RunRequest{
			Records: batchOfRecords(2),
			Async:   true,
			Rules: []*domain.Rule{
				{Name: "strict-amount", Kind: domain.KindAmountThreshold, Severity: domain.SeverityHigh, Threshold: &threshold, Enabled: true},
			},
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for async run with inline rules, got %d", rr.Code)
		}
	})
}

func TestRunRetrieval(t *testing.T) {
	server, _ := createFullTestServer(t)

	rr := postJSON(t, server, "/runs", RunRequest{Records: batchOfRecords(3)})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var created RunResponse
	json.Unmarshal(rr.Body.Bytes(), &created)

	t.Run("GetRun", func(t *testing.T) {
		rr := getJSON(t, server, "/runs/"+created.RunID)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var run domain.Run
		if err := json.Unmarshal(rr.Body.Bytes(), &run); err != nil {
			t.Fatalf("failed to parse run: %v", err)
		}
		if run.ID != created.RunID {
			t.Errorf("expected run %s, got %s", created.RunID, run.ID)
		}
		if run.Findings == nil || len(run.Findings.Verdicts) != 3 {
			t.Error("expected findings with 3 verdicts")
		}
	})

	t.Run("GetRunNotFound", func(t *testing.T) {
		rr := getJSON(t, server, "/runs/no-such-run")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ListRuns", func(t *testing.T) {
		rr := getJSON(t, server, "/runs")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Runs  []*domain.Run `json:"runs"`
			Count int           `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse list: %v", err)
		}
		if resp.Count != 1 || len(resp.Runs) != 1 {
			t.Fatalf("expected 1 run, got %d", resp.Count)
		}
	})

	t.Run("ListRunsInvalidLimit", func(t *testing.T) {
		rr := getJSON(t, server, "/runs?limit=zero")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runs/"+created.RunID, nil)
		req.Header.Set("X-Tenant-ID", "other-tenant")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 for other tenant, got %d", rr.Code)
		}
	})
}

func TestReportEndpoint(t *testing.T) {
	server, _ := createFullTestServer(t)

	records := batchOfRecords(3)
	records[0].Amount = 500000
	rr := postJSON(t, server, "/runs", RunRequest{Records: records})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var created RunResponse
	json.Unmarshal(rr.Body.Bytes(), &created)

	// Label the critical record so the report carries a feedback summary.
	fb := postJSON(t, server, "/feedback", FeedbackRequest{RecordID: "TXN001", Label: "true_positive"})
	if fb.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", fb.Code, fb.Body.String())
	}

	rr = getJSON(t, server, "/runs/"+created.RunID+"/report")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var summary map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to parse summary: %v", err)
	}
	if got := summary["total_records"].(float64); got != 3 {
		t.Errorf("expected 3 total records, got %v", got)
	}
	if got := summary["rule_alerts"].(float64); got < 1 {
		t.Errorf("expected at least one rule alert, got %v", got)
	}
	if summary["engine_version"] != engine.Version {
		t.Errorf("expected engine version %s, got %v", engine.Version, summary["engine_version"])
	}
	fbSummary, ok := summary["feedback_summary"].(map[string]interface{})
	if !ok {
		t.Fatal("expected feedback_summary in report")
	}
	if fbSummary["true_positive"].(float64) != 1 {
		t.Errorf("expected one true_positive label, got %v", fbSummary["true_positive"])
	}

	t.Run("ReportNotFound", func(t *testing.T) {
		rr := getJSON(t, server, "/runs/no-such-run/report")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	server, _ := createFullTestServer(t)

	threshold := 250000.0
	rule := domain.Rule{
		Name:      "reporting-threshold",
		Kind:      domain.KindAmountThreshold,
		Severity:  domain.SeverityHigh,
		Threshold: &threshold,
		Enabled:   true,
	}

	t.Run("CreateRule", func(t *testing.T) {
		rr := postJSON(t, server, "/rules", rule)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("CreateInvalidRule", func(t *testing.T) {
		bad := domain.Rule{
			Name:     "broken",
			Kind:     domain.KindAmountThreshold,
			Severity: domain.SeverityHigh,
			// No threshold
			Enabled: true,
		}
		rr := postJSON(t, server, "/rules", bad)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("ListRules", func(t *testing.T) {
		rr := getJSON(t, server, "/rules")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Rules []*domain.Rule `json:"rules"`
			Count int            `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse list: %v", err)
		}
		if resp.Count != 1 {
			t.Fatalf("expected 1 rule, got %d", resp.Count)
		}
		if resp.Rules[0].Name != "reporting-threshold" {
			t.Errorf("expected rule reporting-threshold, got %s", resp.Rules[0].Name)
		}
	})

	t.Run("GetRule", func(t *testing.T) {
		rr := getJSON(t, server, "/rules/reporting-threshold")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var got domain.Rule
		if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
			t.Fatalf("failed to parse rule: %v", err)
		}
		if got.Threshold == nil || *got.Threshold != 250000 {
			t.Error("expected threshold 250000")
		}
	})

	t.Run("GetRuleNotFound", func(t *testing.T) {
		rr := getJSON(t, server, "/rules/no-such-rule")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ReloadRules", func(t *testing.T) {
		rr := postJSON(t, server, "/rules/reload", struct{}{})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp map[string]interface{}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["count"].(float64) != 1 {
			t.Errorf("expected 1 reloaded rule, got %v", resp["count"])
		}

		// The reloaded ruleset replaces the startup one: only amounts
		// over 250000 should now fire.
		records := batchOfRecords(2)
		records[0].Amount = 300000
		run := postJSON(t, server, "/runs", RunRequest{Records: records})
		if run.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", run.Code, run.Body.String())
		}

		var runResp RunResponse
		json.Unmarshal(run.Body.Bytes(), &runResp)
		if runResp.Counts.Critical != 1 {
			t.Errorf("expected 1 critical verdict after reload, got %d", runResp.Counts.Critical)
		}
		if runResp.Counts.Review != 0 {
			t.Errorf("expected no review verdicts after reload, got %d", runResp.Counts.Review)
		}
	})

	t.Run("DeleteRule", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/rules/reporting-threshold", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		// Deleting again reports not found.
		rr = httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestFeedbackEndpoints(t *testing.T) {
	server, _ := createFullTestServer(t)

	labels := []string{"true_positive", "false_positive", "true_positive"}
	for i, label := range labels {
		rr := postJSON(t, server, "/feedback", FeedbackRequest{
			RecordID: fmt.Sprintf("TXN%03d", i+1),
			Label:    label,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
	}

	t.Run("MissingLabel", func(t *testing.T) {
		rr := postJSON(t, server, "/feedback", FeedbackRequest{RecordID: "TXN009"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Summary", func(t *testing.T) {
		rr := getJSON(t, server, "/feedback/summary")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Summary map[string]int `json:"summary"`
			Total   int            `json:"total"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse summary: %v", err)
		}
		if resp.Total != 3 {
			t.Errorf("expected 3 entries, got %d", resp.Total)
		}
		if resp.Summary["true_positive"] != 2 || resp.Summary["false_positive"] != 1 {
			t.Errorf("unexpected label counts: %v", resp.Summary)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", "my-tenant-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})

	t.Run("CORSPreflightShortCircuits", func(t *testing.T) {
		nextCalled := false
		handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nextCalled = true
		}))

		req := httptest.NewRequest(http.MethodOptions, "/runs", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204 for preflight, got %d", rr.Code)
		}
		if nextCalled {
			t.Error("preflight request must not reach the handler")
		}
		if got := rr.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, TenantIDHeader) {
			t.Errorf("expected %s in allowed headers, got %q", TenantIDHeader, got)
		}
		if got := rr.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(got, TraceIDHeader) {
			t.Errorf("expected %s in exposed headers, got %q", TraceIDHeader, got)
		}
	})

	t.Run("LoggingRecordsStatusAndSize", func(t *testing.T) {
		rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}

		rec.WriteHeader(http.StatusCreated)
		rec.Write([]byte(`{"runId":"r-1"}`))

		if rec.status != http.StatusCreated {
			t.Errorf("expected recorded status 201, got %d", rec.status)
		}
		if rec.bytes != len(`{"runId":"r-1"}`) {
			t.Errorf("expected %d recorded bytes, got %d", len(`{"runId":"r-1"}`), rec.bytes)
		}
	})
}
