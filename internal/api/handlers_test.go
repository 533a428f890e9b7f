package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/courier/internal/breaker"
	"github.com/mattjoyce/courier/internal/dispatch"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/mail"
	"github.com/mattjoyce/courier/internal/queue"
	"github.com/mattjoyce/courier/internal/store"
)

type fakeEngine struct {
	result    *dispatch.Result
	statusRes *dispatch.Result
	statusErr error
	list      []*dispatch.Result
	listSize  int
}

func (f *fakeEngine) Dispatch(_ context.Context, _ *mail.Message) *dispatch.Result {
	return f.result
}

func (f *fakeEngine) StatusByID(_ context.Context, _ string) (*dispatch.Result, error) {
	return f.statusRes, f.statusErr
}

func (f *fakeEngine) List(_ context.Context, _ store.Status, _, size int) ([]*dispatch.Result, error) {
	f.listSize = size
	return f.list, nil
}

type fakeQueue struct {
	err error
	len int
}

func (f *fakeQueue) Enqueue(_ *mail.Message) error { return f.err }
func (f *fakeQueue) Len() int                      { return f.len }

type fakeStats struct{ stats *queue.Stats }

func (f *fakeStats) Stats(_ context.Context) (*queue.Stats, error) { return f.stats, nil }

type fakeLimiter struct{ count int }

func (f *fakeLimiter) CurrentCount(_ string) int    { return f.count }
func (f *fakeLimiter) Limits() (int, time.Duration) { return 100, time.Minute }

type fakeBreakers struct{ snap map[string]breaker.Status }

func (f *fakeBreakers) Snapshot() map[string]breaker.Status { return f.snap }

type testDeps struct {
	engine   *fakeEngine
	queue    *fakeQueue
	stats    *fakeStats
	limiter  *fakeLimiter
	breakers *fakeBreakers
	hub      *events.Hub
}

func newTestServer(t *testing.T, cfg Config, deps *testDeps) *httptest.Server {
	t.Helper()
	if deps.engine == nil {
		deps.engine = &fakeEngine{}
	}
	if deps.queue == nil {
		deps.queue = &fakeQueue{}
	}
	if deps.stats == nil {
		deps.stats = &fakeStats{stats: &queue.Stats{}}
	}
	if deps.limiter == nil {
		deps.limiter = &fakeLimiter{}
	}
	if deps.breakers == nil {
		deps.breakers = &fakeBreakers{snap: map[string]breaker.Status{}}
	}
	if deps.hub == nil {
		deps.hub = events.NewHub(16)
	}

	s := New(cfg, deps.engine, deps.queue, deps.stats, deps.limiter, deps.breakers, deps.hub, log.Get())
	ts := httptest.NewServer(s.setupRoutes())
	t.Cleanup(ts.Close)
	return ts
}

func validBody() string {
	return `{"from":"alice@example.com","to":["bob@example.com"],"subject":"hi","body":"there"}`
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getURL(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, Config{}, &testDeps{queue: &fakeQueue{len: 3}})

	resp := getURL(t, ts.URL+"/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body HealthzResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.QueueSize != 3 {
		t.Fatalf("body: %+v", body)
	}
}

func TestSendStatusMapping(t *testing.T) {
	cases := []struct {
		status store.Status
		want   int
	}{
		{store.StatusSent, http.StatusOK},
		{store.StatusDuplicate, http.StatusConflict},
		{store.StatusRateLimited, http.StatusTooManyRequests},
		{store.StatusFailed, http.StatusInternalServerError},
		{store.StatusPending, http.StatusAccepted},
	}

	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			engine := &fakeEngine{result: &dispatch.Result{ID: "x", Status: tc.status}}
			ts := newTestServer(t, Config{}, &testDeps{engine: engine})

			resp := postJSON(t, ts.URL+"/api/v1/messages/send", validBody())
			if resp.StatusCode != tc.want {
				t.Fatalf("status %s mapped to %d, want %d", tc.status, resp.StatusCode, tc.want)
			}
		})
	}
}

func TestSendRejectsBadJSON(t *testing.T) {
	ts := newTestServer(t, Config{}, &testDeps{})

	resp := postJSON(t, ts.URL+"/api/v1/messages/send", "{not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSendRejectsInvalidMessage(t *testing.T) {
	ts := newTestServer(t, Config{}, &testDeps{})

	resp := postJSON(t, ts.URL+"/api/v1/messages/send", `{"from":"not-an-address"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error == "" {
		t.Fatal("expected validation detail in error body")
	}
}

func TestQueueAccepted(t *testing.T) {
	ts := newTestServer(t, Config{}, &testDeps{queue: &fakeQueue{len: 1}})

	resp := postJSON(t, ts.URL+"/api/v1/messages/queue", validBody())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body QueueAcceptedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Queued || body.QueueSize != 1 {
		t.Fatalf("body: %+v", body)
	}
}

func TestQueueFull(t *testing.T) {
	ts := newTestServer(t, Config{}, &testDeps{queue: &fakeQueue{err: queue.ErrFull}})

	resp := postJSON(t, ts.URL+"/api/v1/messages/queue", validBody())
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestStatusFoundAndMissing(t *testing.T) {
	engine := &fakeEngine{statusRes: &dispatch.Result{ID: "abc", Status: store.StatusSent}}
	ts := newTestServer(t, Config{}, &testDeps{engine: engine})

	resp := getURL(t, ts.URL+"/api/v1/messages/abc/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	engine.statusRes = nil
	engine.statusErr = store.ErrNotFound
	resp = getURL(t, ts.URL+"/api/v1/messages/missing/status")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListRejectsUnknownStatus(t *testing.T) {
	ts := newTestServer(t, Config{}, &testDeps{})

	resp := getURL(t, ts.URL+"/api/v1/messages?status=bogus")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestListClampsPageSize(t *testing.T) {
	engine := &fakeEngine{}
	ts := newTestServer(t, Config{}, &testDeps{engine: engine})

	resp := getURL(t, ts.URL+"/api/v1/messages?size=5000")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if engine.listSize != maxPageSize {
		t.Fatalf("size passed to engine = %d, want %d", engine.listSize, maxPageSize)
	}
}

func TestRateLimitEndpoint(t *testing.T) {
	ts := newTestServer(t, Config{}, &testDeps{limiter: &fakeLimiter{count: 7}})

	resp := getURL(t, ts.URL+"/api/v1/rate-limit/alice@example.com")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body RateLimitResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.CurrentCount != 7 || body.MaxRequests != 100 || body.Remaining != 93 || body.WindowSeconds != 60 {
		t.Fatalf("body: %+v", body)
	}
}

func TestCircuitBreakersEndpoint(t *testing.T) {
	snap := map[string]breaker.Status{
		"alpha": {State: breaker.StateOpen, Failures: 5, Available: false},
	}
	ts := newTestServer(t, Config{}, &testDeps{breakers: &fakeBreakers{snap: snap}})

	resp := getURL(t, ts.URL+"/api/v1/circuit-breakers")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body map[string]breaker.Status
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["alpha"].State != breaker.StateOpen {
		t.Fatalf("body: %+v", body)
	}
}

func TestAuthRequiredWhenKeyConfigured(t *testing.T) {
	ts := newTestServer(t, Config{APIKey: "sekrit"}, &testDeps{
		engine: &fakeEngine{result: &dispatch.Result{Status: store.StatusSent}},
	})

	// No header.
	resp := postJSON(t, ts.URL+"/api/v1/messages/send", validBody())
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no header: status = %d", resp.StatusCode)
	}

	// Wrong key.
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/messages/send", strings.NewReader(validBody()))
	req.Header.Set("Authorization", "Bearer wrong")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong key: status = %d", resp2.StatusCode)
	}

	// Correct key.
	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/api/v1/messages/send", strings.NewReader(validBody()))
	req.Header.Set("Authorization", "Bearer sekrit")
	resp3, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		t.Fatalf("correct key: status = %d", resp3.StatusCode)
	}

	// Healthz stays open.
	resp4 := getURL(t, ts.URL+"/healthz")
	if resp4.StatusCode != http.StatusOK {
		t.Fatalf("healthz with auth enabled: status = %d", resp4.StatusCode)
	}
}

func TestEventsStreamReplaysBuffer(t *testing.T) {
	hub := events.NewHub(16)
	hub.Publish(events.TypeMessageSent, map[string]any{"id": "m1"})
	hub.Publish(events.TypeMessageFailed, map[string]any{"id": "m2"})

	deps := &testDeps{hub: hub}
	deps.engine = &fakeEngine{}
	s := New(Config{}, deps.engine, &fakeQueue{}, &fakeStats{stats: &queue.Stats{}}, &fakeLimiter{}, &fakeBreakers{}, hub, log.Get())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.handleEvents(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "event: "+events.TypeMessageSent) {
		t.Fatalf("missing sent event in stream:\n%s", body)
	}
	if !strings.Contains(body, "event: "+events.TypeMessageFailed) {
		t.Fatalf("missing failed event in stream:\n%s", body)
	}
	if !strings.Contains(body, "id: 1") || !strings.Contains(body, "id: 2") {
		t.Fatalf("missing event ids in stream:\n%s", body)
	}
}
