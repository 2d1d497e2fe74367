package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/aggregates"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/eventstore"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/outbox"
	repos "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/repos/booking"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/data/repos/testutil"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/booking"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/domain/events"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/events/commit"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/events/dispatch"
	httpH "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/http/handlers"
	httpMW "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/http/middleware"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/observability"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/dbctx"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/services"
)

const adminSecret = "router-test-secret"

type harness struct {
	router   *gin.Engine
	registry *dispatch.Registry
	outbox   outbox.Store
	token    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.DB(t)
	log := testutil.Logger(t)

	store := eventstore.NewStore(db, log)
	ob := outbox.NewStore(db, log)
	reg := dispatch.NewRegistry()
	dispatcher := dispatch.New(dispatch.Deps{
		Store:    store,
		Outbox:   ob,
		Registry: reg,
		Log:      log,
		Config:   dispatch.Config{Attempts: 2, BaseDelay: time.Millisecond},
	})
	gate := commit.NewGate(aggregates.NewGormTxRunner(db), dispatcher, log)
	bookingSvc := services.NewBookingService(log, repos.NewAgencyRepo(db, log), repos.NewAppointmentRepo(db, log), gate, aggregates.DefaultRetryConfig())
	operatorSvc := services.NewOperatorService(aggregates.BaseDeps{DB: db, Log: log, Runner: gate.PlainRunner()}, ob, store)

	token, err := httpMW.SignOperatorToken(adminSecret, "", "ops", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return &harness{
		router: NewRouter(RouterConfig{
			Log:             log,
			HealthHandler:   httpH.NewHealthHandler(func(ctx context.Context) error { return nil }),
			BookingHandler:  httpH.NewBookingHandler(bookingSvc),
			OperatorHandler: httpH.NewOperatorHandler(operatorSvc),
			AdminAuth:       httpMW.NewAdminAuth(log, adminSecret, ""),
		}),
		registry: reg,
		outbox:   ob,
		token:    token,
	}
}

func (h *harness) do(t *testing.T, method, path string, body any, auth bool) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	out := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func (h *harness) registerAgency(t *testing.T, capacity int) string {
	t.Helper()
	rec, out := h.do(t, nethttp.MethodPost, "/agencies", map[string]any{
		"name": "North", "email": "north@example.com", "daily_capacity": capacity,
	}, false)
	if rec.Code != nethttp.StatusCreated {
		t.Fatalf("register: code=%d body=%s", rec.Code, rec.Body.String())
	}
	return out["agency"].(map[string]any)["id"].(string)
}

func TestHealthcheck(t *testing.T) {
	h := newHarness(t)
	rec, _ := h.do(t, nethttp.MethodGet, "/healthcheck", nil, false)
	if rec.Code != nethttp.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthcheck: code=%d body=%q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("request id header must be set")
	}
}

func TestBookingFlowStatuses(t *testing.T) {
	h := newHarness(t)
	id := h.registerAgency(t, 1)
	slot := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	rec, _ := h.do(t, nethttp.MethodPost, "/appointments", map[string]any{
		"agency_id": id, "customer_email": "c@example.com", "slot_start": slot,
	}, false)
	if rec.Code != nethttp.StatusCreated {
		t.Fatalf("book: code=%d body=%s", rec.Code, rec.Body.String())
	}
	rec, out := h.do(t, nethttp.MethodPost, "/appointments", map[string]any{
		"agency_id": id, "customer_email": "d@example.com", "slot_start": slot.Add(time.Hour),
	}, false)
	if rec.Code != nethttp.StatusPreconditionFailed {
		t.Fatalf("full day: want=412 got=%d", rec.Code)
	}
	if out["error"].(map[string]any)["code"] != "precondition_failed" {
		t.Fatalf("error code: got=%v", out["error"])
	}

	rec, _ = h.do(t, nethttp.MethodPost, "/agencies/"+id+"/holidays", map[string]any{"date": "2026-03-03", "label": "x"}, false)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("holiday: code=%d body=%s", rec.Code, rec.Body.String())
	}
	rec, _ = h.do(t, nethttp.MethodPost, "/appointments", map[string]any{
		"agency_id": id, "customer_email": "d@example.com", "slot_start": slot.AddDate(0, 0, 1),
	}, false)
	if rec.Code != nethttp.StatusUnprocessableEntity {
		t.Fatalf("holiday booking: want=422 got=%d", rec.Code)
	}

	rec, _ = h.do(t, nethttp.MethodGet, "/agencies/"+uuid.NewString(), nil, false)
	if rec.Code != nethttp.StatusNotFound {
		t.Fatalf("missing agency: want=404 got=%d", rec.Code)
	}
	rec, _ = h.do(t, nethttp.MethodGet, "/agencies/not-a-uuid", nil, false)
	if rec.Code != nethttp.StatusBadRequest {
		t.Fatalf("bad id: want=400 got=%d", rec.Code)
	}
}

func TestHandlerFailureStillCreated(t *testing.T) {
	h := newHarness(t)
	_ = h.registry.Register(booking.KindAgencyRegistered, dispatch.HandlerFunc("index", func(context.Context, events.Event) error {
		return errors.New("index down")
	}))
	rec, out := h.do(t, nethttp.MethodPost, "/agencies", map[string]any{
		"name": "North", "email": "north@example.com", "daily_capacity": 2,
	}, false)
	if rec.Code != nethttp.StatusCreated {
		t.Fatalf("code: want=201 got=%d body=%s", rec.Code, rec.Body.String())
	}
	failures, ok := out["handler_failures"].(map[string]any)
	if !ok {
		t.Fatalf("handler failures must be reported, body=%s", rec.Body.String())
	}
	if hs := failures["handlers"].([]any); len(hs) != 1 || hs[0] != "index" {
		t.Fatalf("failed handlers: got=%v", hs)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	h := newHarness(t)
	rec, _ := h.do(t, nethttp.MethodGet, "/admin/outbox/exhausted", nil, false)
	if rec.Code != nethttp.StatusUnauthorized {
		t.Fatalf("without token: want=401 got=%d", rec.Code)
	}
	rec, _ = h.do(t, nethttp.MethodGet, "/admin/outbox/exhausted?limit=0", nil, true)
	if rec.Code != nethttp.StatusBadRequest {
		t.Fatalf("bad limit: want=400 got=%d", rec.Code)
	}
}

func TestAdminRequeueAndHistory(t *testing.T) {
	h := newHarness(t)
	id := h.registerAgency(t, 2)

	a, _ := booking.NewAgency("South", "south@example.com", 1)
	msg, err := outbox.NewMessage(a.PullEvents()[0], errors.New("broker down"))
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	msg.RetryCount = outbox.MaxRetries
	if err := h.outbox.Create(dbctx.Context{Ctx: context.Background()}, msg); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec, out := h.do(t, nethttp.MethodGet, "/admin/outbox/exhausted", nil, true)
	if rec.Code != nethttp.StatusOK || len(out["messages"].([]any)) != 1 {
		t.Fatalf("exhausted: code=%d body=%s", rec.Code, rec.Body.String())
	}
	rec, _ = h.do(t, nethttp.MethodPost, "/admin/outbox/"+msg.ID.String()+"/requeue", nil, true)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("requeue: code=%d body=%s", rec.Code, rec.Body.String())
	}
	rec, _ = h.do(t, nethttp.MethodPost, "/admin/outbox/"+msg.ID.String()+"/requeue", nil, true)
	if rec.Code != nethttp.StatusPreconditionFailed {
		t.Fatalf("second requeue: want=412 got=%d", rec.Code)
	}

	rec, out = h.do(t, nethttp.MethodGet, "/admin/events/"+id, nil, true)
	if rec.Code != nethttp.StatusOK || len(out["events"].([]any)) != 1 {
		t.Fatalf("history: code=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestMetricsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := observability.New()
	r := NewRouter(RouterConfig{
		Log:           testutil.Logger(t),
		Metrics:       m,
		HealthHandler: httpH.NewHealthHandler(func(ctx context.Context) error { return nil }),
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/healthcheck", nil))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/metrics", nil))
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("metrics: want=200 got=%d", rec.Code)
	}
	want := `booking_api_requests_total{method="GET",route="/healthcheck",status="200"} 1.000000`
	if !bytes.Contains(rec.Body.Bytes(), []byte(want)) {
		t.Fatalf("metrics body missing %q\n%s", want, rec.Body.String())
	}
}
