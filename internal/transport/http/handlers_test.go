package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"

	"github.com/fedutinova/starq/internal/auth"
	"github.com/fedutinova/starq/internal/config"
	"github.com/fedutinova/starq/internal/models"
	"github.com/fedutinova/starq/internal/queue"
	"github.com/fedutinova/starq/internal/redis"
)

const testKey = "test-key"

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()
	mr := miniredis.RunT(t)

	rdb, err := redis.New("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("redis.New error: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	cfg := config.Config{
		APIKeys:             []string{testKey},
		DefaultClaimTimeout: 300,
		DefaultMaxRetries:   3,
		JobMetaTTL:          7 * 24 * time.Hour,
	}
	h := &Handlers{
		Queue: queue.New(rdb.Client(), queue.Config{
			DefaultClaimTimeout: cfg.DefaultClaimTimeout,
			DefaultMaxRetries:   cfg.DefaultMaxRetries,
			JobMetaTTL:          cfg.JobMetaTTL,
		}),
		Redis:  rdb,
		Config: cfg,
	}

	r := chi.NewRouter()
	h.Routers(r)
	return r
}

func do(t *testing.T, r chi.Router, method, path, apiKey, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set(auth.HeaderName, apiKey)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return v
}

func mustCreateQueue(t *testing.T, r chi.Router, body string) models.QueueInfo {
	t.Helper()
	rec := do(t, r, http.MethodPost, "/api/v1/queues/", testKey, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("create queue: status %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[models.QueueInfo](t, rec)
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t)
	rec := do(t, r, http.MethodGet, "/api/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["status"] != "ok" {
		t.Fatalf("expected ok, got %v", body)
	}
}

func TestCreateQueue(t *testing.T) {
	r := newTestRouter(t)

	info := mustCreateQueue(t, r, `{"name": "emails", "description": "outbound", "dedupe": true}`)
	if info.Name != "emails" || !info.Dedupe {
		t.Fatalf("unexpected queue info: %+v", info)
	}
	// Server defaults fill absent fields.
	if info.MaxRetries != 3 || info.ClaimTimeout != 300 {
		t.Fatalf("expected defaults 3/300, got %d/%d", info.MaxRetries, info.ClaimTimeout)
	}

	// Explicit zero is honored, not replaced by the default.
	info = mustCreateQueue(t, r, `{"name": "oneshot", "max_retries": 0}`)
	if info.MaxRetries != 0 {
		t.Fatalf("explicit max_retries=0 must stick, got %d", info.MaxRetries)
	}
}

func TestCreateQueue_Conflict(t *testing.T) {
	r := newTestRouter(t)
	mustCreateQueue(t, r, `{"name": "emails"}`)

	rec := do(t, r, http.MethodPost, "/api/v1/queues/", testKey, `{"name": "emails"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["detail"] != "Queue 'emails' already exists" {
		t.Fatalf("unexpected detail: %q", body["detail"])
	}
}

func TestCreateQueue_InvalidName(t *testing.T) {
	r := newTestRouter(t)
	for _, body := range []string{
		`{"name": "Bad Name"}`,
		`{"name": ""}`,
		`{not json`,
	} {
		rec := do(t, r, http.MethodPost, "/api/v1/queues/", testKey, body)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("body %s: expected 422, got %d", body, rec.Code)
		}
	}
}

func TestAuth_MutatingRoutesGuarded(t *testing.T) {
	r := newTestRouter(t)

	rec := do(t, r, http.MethodPost, "/api/v1/queues/", "", `{"name": "q"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a key, got %d", rec.Code)
	}
	rec = do(t, r, http.MethodPost, "/api/v1/queues/", "wrong", `{"name": "q"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with a bad key, got %d", rec.Code)
	}

	// Read-only routes stay open.
	rec = do(t, r, http.MethodGet, "/api/v1/queues/", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected open list endpoint, got %d", rec.Code)
	}
}

func TestListQueues(t *testing.T) {
	r := newTestRouter(t)
	mustCreateQueue(t, r, `{"name": "b"}`)
	mustCreateQueue(t, r, `{"name": "a"}`)

	rec := do(t, r, http.MethodGet, "/api/v1/queues/", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	list := decode[models.QueueList](t, rec)
	if len(list.Queues) != 2 || list.Queues[0].Name != "a" || list.Queues[1].Name != "b" {
		t.Fatalf("expected sorted [a b], got %+v", list.Queues)
	}
}

func TestGetQueue_NotFound(t *testing.T) {
	r := newTestRouter(t)
	rec := do(t, r, http.MethodGet, "/api/v1/queues/ghost/", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["detail"] != "Queue 'ghost' not found" {
		t.Fatalf("unexpected detail: %q", body["detail"])
	}
}

func TestSubmit_SingleAndBatchShapes(t *testing.T) {
	r := newTestRouter(t)
	mustCreateQueue(t, r, `{"name": "q"}`)

	rec := do(t, r, http.MethodPost, "/api/v1/queues/q/jobs", testKey,
		`{"payload": {"to": "a@example.com"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("single submit: status %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[models.SubmitResponse](t, rec)
	if resp.Submitted != 1 || len(resp.Jobs) != 1 {
		t.Fatalf("unexpected single-submit response: %+v", resp)
	}

	rec = do(t, r, http.MethodPost, "/api/v1/queues/q/jobs", testKey,
		`{"jobs": [{"payload": {"n": 1}}, {"payload": {"n": 2}}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("batch submit: status %d, body %s", rec.Code, rec.Body.String())
	}
	resp = decode[models.SubmitResponse](t, rec)
	if resp.Submitted != 2 {
		t.Fatalf("expected 2 submitted, got %+v", resp)
	}
}

func TestSubmit_QueueNotFound(t *testing.T) {
	r := newTestRouter(t)
	rec := do(t, r, http.MethodPost, "/api/v1/queues/ghost/jobs", testKey,
		`{"payload": {}}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSubmit_EmptyBatch(t *testing.T) {
	r := newTestRouter(t)
	mustCreateQueue(t, r, `{"name": "q"}`)

	rec := do(t, r, http.MethodPost, "/api/v1/queues/q/jobs", testKey, `{"jobs": []}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for an empty batch, got %d", rec.Code)
	}
}

func TestClaimCompleteFail_Lifecycle(t *testing.T) {
	r := newTestRouter(t)
	mustCreateQueue(t, r, `{"name": "q"}`)

	rec := do(t, r, http.MethodPost, "/api/v1/queues/q/jobs", testKey,
		`{"jobs": [{"payload": {"n": 1}}, {"payload": {"n": 2}}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: status %d", rec.Code)
	}

	// count defaults to 1 when the body omits it.
	rec = do(t, r, http.MethodPost, "/api/v1/queues/q/jobs/claim", testKey, `{}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("claim: status %d, body %s", rec.Code, rec.Body.String())
	}
	claimed := decode[models.ClaimedJobs](t, rec)
	if len(claimed.Jobs) != 1 || claimed.Jobs[0].Status != models.StatusClaimed {
		t.Fatalf("unexpected claim response: %+v", claimed)
	}
	first := claimed.Jobs[0].ID

	rec = do(t, r, http.MethodPut, "/api/v1/queues/q/jobs/"+first+"/complete", testKey,
		`{"result": {"sent": true}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: status %d, body %s", rec.Code, rec.Body.String())
	}
	done := decode[map[string]string](t, rec)
	if done["status"] != "completed" || done["job_id"] != first {
		t.Fatalf("unexpected complete response: %v", done)
	}

	rec = do(t, r, http.MethodPost, "/api/v1/queues/q/jobs/claim", testKey, `{"count": 1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("claim: status %d", rec.Code)
	}
	claimed = decode[models.ClaimedJobs](t, rec)
	if len(claimed.Jobs) != 1 {
		t.Fatalf("expected the second job, got %+v", claimed)
	}
	second := claimed.Jobs[0].ID

	rec = do(t, r, http.MethodPut, "/api/v1/queues/q/jobs/"+second+"/fail", testKey,
		`{"error": "smtp timeout"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("fail: status %d, body %s", rec.Code, rec.Body.String())
	}
	failed := decode[map[string]any](t, rec)
	if failed["status"] != "failed" || failed["retries"] != float64(0) {
		t.Fatalf("unexpected fail response: %v", failed)
	}
}

func TestCompleteJob_NotFound(t *testing.T) {
	r := newTestRouter(t)
	mustCreateQueue(t, r, `{"name": "q"}`)

	rec := do(t, r, http.MethodPut, "/api/v1/queues/q/jobs/1-0/complete", testKey, `{}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["detail"] != "Job '1-0' not found" {
		t.Fatalf("unexpected detail: %q", body["detail"])
	}
}

func TestListJobs_Endpoint(t *testing.T) {
	r := newTestRouter(t)
	mustCreateQueue(t, r, `{"name": "q"}`)

	for i := 0; i < 3; i++ {
		rec := do(t, r, http.MethodPost, "/api/v1/queues/q/jobs", testKey,
			`{"payload": {"n": `+strconv.Itoa(i)+`}}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("submit %d: status %d", i, rec.Code)
		}
	}

	rec := do(t, r, http.MethodGet, "/api/v1/queues/q/jobs?count=2", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d, body %s", rec.Code, rec.Body.String())
	}
	page := decode[models.JobListResponse](t, rec)
	if len(page.Jobs) != 2 || !page.HasMore || page.Cursor == "" {
		t.Fatalf("unexpected first page: %+v", page)
	}

	rec = do(t, r, http.MethodGet, "/api/v1/queues/q/jobs?count=2&cursor="+page.Cursor, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	page = decode[models.JobListResponse](t, rec)
	if len(page.Jobs) != 1 || page.HasMore {
		t.Fatalf("unexpected second page: %+v", page)
	}
}

func TestListJobs_BadCount(t *testing.T) {
	r := newTestRouter(t)
	mustCreateQueue(t, r, `{"name": "q"}`)

	for _, raw := range []string{"0", "-1", "nan"} {
		rec := do(t, r, http.MethodGet, "/api/v1/queues/q/jobs?count="+raw, "", "")
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("count=%s: expected 422, got %d", raw, rec.Code)
		}
	}
}

func TestDeleteQueue(t *testing.T) {
	r := newTestRouter(t)
	mustCreateQueue(t, r, `{"name": "q"}`)

	rec := do(t, r, http.MethodDelete, "/api/v1/queues/q/", testKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status %d, body %s", rec.Code, rec.Body.String())
	}
	body := decode[map[string]string](t, rec)
	if body["status"] != "deleted" || body["queue"] != "q" {
		t.Fatalf("unexpected delete response: %v", body)
	}

	rec = do(t, r, http.MethodGet, "/api/v1/queues/q/", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}
