package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/wa-autoreply/internal/instance"
)

type memoryInstances struct {
	statuses map[string]instance.Status
}

func (m *memoryInstances) GetByKey(ctx context.Context, key string) (*instance.Instance, error) {
	if _, ok := m.statuses[key]; !ok {
		return nil, instance.ErrNotFound
	}
	inst := *testInstance
	inst.Key = key
	inst.Status = m.statuses[key]
	return &inst, nil
}

func (m *memoryInstances) UpdateStatus(ctx context.Context, key string, status instance.Status) error {
	if _, ok := m.statuses[key]; !ok {
		return instance.ErrNotFound
	}
	m.statuses[key] = status
	return nil
}

type stubChecker struct {
	status string
	err    error
}

func (s stubChecker) ConnectionStatus(ctx context.Context, phoneNumberID string) (string, error) {
	return s.status, s.err
}

func statusRouter(repo instance.Repository, checker ConnectionChecker) http.Handler {
	h := NewInstanceStatusHandler(repo, checker, nil)
	r := chi.NewRouter()
	r.Put("/instances/{instanceKey}/status", h.UpdateStatus)
	r.Post("/instances/{instanceKey}/status/refresh", h.RefreshStatus)
	return r
}

func TestInstanceStatusUpdate(t *testing.T) {
	repo := &memoryInstances{statuses: map[string]instance.Status{"shop1": instance.StatusConnecting}}
	h := statusRouter(repo, nil)

	cases := []struct {
		name string
		key  string
		body string
		want int
	}{
		{"open", "shop1", `{"status":"open"}`, http.StatusNoContent},
		{"unknown status", "shop1", `{"status":"sleeping"}`, http.StatusBadRequest},
		{"bad json", "shop1", `{`, http.StatusBadRequest},
		{"unknown instance", "shop9", `{"status":"open"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/instances/"+tc.key+"/status", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
	if repo.statuses["shop1"] != instance.StatusOpen {
		t.Fatalf("expected shop1 open, got %s", repo.statuses["shop1"])
	}
}

func TestInstanceStatusRefresh(t *testing.T) {
	repo := &memoryInstances{statuses: map[string]instance.Status{"shop1": instance.StatusOpen}}

	rec := httptest.NewRecorder()
	statusRouter(repo, stubChecker{status: "disconnected"}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/instances/shop1/status/refresh", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"disconnected"`) {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if repo.statuses["shop1"] != instance.StatusDisconnected {
		t.Fatalf("expected stored status disconnected, got %s", repo.statuses["shop1"])
	}

	rec = httptest.NewRecorder()
	statusRouter(repo, stubChecker{err: errors.New("graph down")}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/instances/shop1/status/refresh", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	statusRouter(repo, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/instances/shop1/status/refresh", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
