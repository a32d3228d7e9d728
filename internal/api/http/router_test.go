package http

import (
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/haul-reconciler/internal/api/http/handlers"
	"github.com/spec-kit/haul-reconciler/internal/domain"
	"github.com/spec-kit/haul-reconciler/internal/events"
	"github.com/spec-kit/haul-reconciler/internal/observability"
	"github.com/spec-kit/haul-reconciler/internal/payweek"
	"github.com/spec-kit/haul-reconciler/internal/persistence"
	"github.com/spec-kit/haul-reconciler/internal/repository"
	"github.com/spec-kit/haul-reconciler/internal/service"
)

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Summary json.RawMessage `json:"summary"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type ticketBody struct {
	ID             string   `json:"id"`
	Status         string   `json:"status"`
	DeliveryDate   string   `json:"delivery_date"`
	PayWeekEnding  string   `json:"pay_week_ending"`
	AllowedActions []string `json:"allowed_actions"`
	Confidence     *struct {
		Overall float64 `json:"overall"`
	} `json:"confidence"`
	Reconciliation *struct {
		Status  string   `json:"status"`
		Reasons []string `json:"reasons"`
	} `json:"reconciliation"`
}

func newTestApp(t *testing.T, now time.Time) *fiber.App {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	repo := repository.NewMemoryTicketRepository()
	svc := service.NewReconciliationService(service.Dependencies{
		TicketRepo:  repo,
		HistoryRepo: repo.History(),
		Dispatcher:  events.NewInMemoryDispatcher(),
		Policy:      domain.DefaultPolicy(),
		Metrics:     metrics,
		Logger:      logger,
		Now:         func() time.Time { return now },
	})
	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, 5*time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:  handlers.NewHealthHandler("haul-reconciler", "test", &persistence.Postgres{}, &persistence.Redis{}),
		Tickets: handlers.NewTicketsHandler(svc),
		Reports: handlers.NewReportsHandler(svc),
		Metrics: metrics,
	})
	return app
}

func do(t *testing.T, app *fiber.App, method, path, contentType, body string) (*nethttp.Response, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	var env envelope
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		raw, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp, env
}

const submitBody = `{"ticket_number":"A-100","driver_id":"drv-7","truck_id":"TRK-12","material_type":"Crushed Stone","quantity":20,"unit":"tons","pay_rate":80,"bill_rate":110,"delivery_date":"2024-05-21T09:00:00Z"}`

func submit(t *testing.T, app *fiber.App) ticketBody {
	t.Helper()
	resp, env := do(t, app, nethttp.MethodPost, "/tickets", fiber.MIMEApplicationJSON, submitBody)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("submit status %d: %+v", resp.StatusCode, env.Error)
	}
	var tb ticketBody
	if err := json.Unmarshal(env.Data, &tb); err != nil {
		t.Fatal(err)
	}
	return tb
}

func TestSubmitAndFetchTicket(t *testing.T) {
	app := newTestApp(t, time.Date(2024, 5, 22, 12, 0, 0, 0, time.UTC))
	created := submit(t, app)
	if created.Status != "pending" || created.PayWeekEnding != "2024-05-24" || created.Confidence == nil || created.Reconciliation == nil {
		t.Fatalf("unexpected submit body %+v", created)
	}
	if created.Reconciliation.Status != "clear" {
		t.Fatalf("fresh ticket inside grace period should be clear, got %+v", created.Reconciliation)
	}

	resp, env := do(t, app, nethttp.MethodGet, "/tickets/"+created.ID, "", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("get status %d", resp.StatusCode)
	}
	var fetched ticketBody
	_ = json.Unmarshal(env.Data, &fetched)
	if fetched.ID != created.ID {
		t.Fatalf("fetched %+v", fetched)
	}

	resp, env = do(t, app, nethttp.MethodGet, "/tickets/missing", "", "")
	if resp.StatusCode != fiber.StatusNotFound || env.Error == nil || env.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %d %+v", resp.StatusCode, env.Error)
	}
}

func TestSubmitBucketsByDeliveryOffsetInSettlementZone(t *testing.T) {
	central := time.FixedZone("CDT", -5*3600)
	payweek.SetLocation(central)
	t.Cleanup(func() { payweek.SetLocation(nil) })
	app := newTestApp(t, time.Date(2024, 5, 24, 21, 30, 0, 0, central))

	body := strings.Replace(submitBody, `"2024-05-21T09:00:00Z"`, `"2024-05-24T20:00:00-05:00"`, 1)
	resp, env := do(t, app, nethttp.MethodPost, "/tickets", fiber.MIMEApplicationJSON, body)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("submit status %d: %+v", resp.StatusCode, env.Error)
	}
	var created ticketBody
	_ = json.Unmarshal(env.Data, &created)
	if created.PayWeekEnding != "2024-05-24" || created.Status != "pending" {
		t.Fatalf("Friday evening delivery belongs to that Friday's week, got %+v", created)
	}
	if !strings.HasSuffix(created.DeliveryDate, "-05:00") {
		t.Fatalf("delivery offset should be kept, got %q", created.DeliveryDate)
	}

	_, env = do(t, app, nethttp.MethodGet, "/drivers/drv-7/weeks/2024-05-24/report", "", "")
	var rep domain.Report
	_ = json.Unmarshal(env.Data, &rep)
	if rep.TotalTickets != 1 {
		t.Fatalf("ticket missing from its week report: %+v", rep)
	}
	_, env = do(t, app, nethttp.MethodGet, "/drivers/drv-7/weeks/2024-05-31/report", "", "")
	rep = domain.Report{}
	_ = json.Unmarshal(env.Data, &rep)
	if rep.TotalTickets != 0 {
		t.Fatalf("ticket leaked into the following week: %+v", rep)
	}
}

func TestSubmitReusedIDConflicts(t *testing.T) {
	app := newTestApp(t, time.Date(2024, 5, 22, 12, 0, 0, 0, time.UTC))
	body := strings.Replace(submitBody, `{"ticket_number"`, `{"id":"tk-1","ticket_number"`, 1)

	resp, env := do(t, app, nethttp.MethodPost, "/tickets", fiber.MIMEApplicationJSON, body)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("first submit status %d: %+v", resp.StatusCode, env.Error)
	}
	resp, env = do(t, app, nethttp.MethodPost, "/tickets", fiber.MIMEApplicationJSON, body)
	if resp.StatusCode != fiber.StatusConflict || env.Error == nil || env.Error.Code != "CONFLICT" {
		t.Fatalf("reused id should be a 409 CONFLICT, got %d %+v", resp.StatusCode, env.Error)
	}
	if env.Error.Details["id"] != "tk-1" {
		t.Fatalf("conflict should name the id: %v", env.Error.Details)
	}
}

func TestSubmitMalformedTicket(t *testing.T) {
	app := newTestApp(t, time.Date(2024, 5, 22, 12, 0, 0, 0, time.UTC))
	resp, env := do(t, app, nethttp.MethodPost, "/tickets", fiber.MIMEApplicationJSON,
		`{"ticket_number":"A-1","quantity":-3,"delivery_date":"2024-05-21"}`)
	if resp.StatusCode != fiber.StatusUnprocessableEntity || env.Error.Code != "MALFORMED_TICKET" {
		t.Fatalf("expected 422 MALFORMED_TICKET, got %d %+v", resp.StatusCode, env.Error)
	}
	if _, ok := env.Error.Details["driver_id"]; !ok {
		t.Fatalf("details should name driver_id: %v", env.Error.Details)
	}

	resp, env = do(t, app, nethttp.MethodPost, "/tickets", fiber.MIMEApplicationJSON,
		`{"ticket_number":"A-1","driver_id":"d","delivery_date":"21st of May"}`)
	if resp.StatusCode != fiber.StatusUnprocessableEntity || env.Error.Details["delivery_date"] != "invalid date" {
		t.Fatalf("expected invalid date, got %d %+v", resp.StatusCode, env.Error)
	}
}

func TestTicketActions(t *testing.T) {
	app := newTestApp(t, time.Date(2024, 5, 22, 12, 0, 0, 0, time.UTC))
	created := submit(t, app)
	path := "/tickets/" + created.ID + "/actions"

	resp, env := do(t, app, nethttp.MethodPost, path, fiber.MIMEApplicationJSON, `{"action":"pay","actor":"billing-1"}`)
	if resp.StatusCode != fiber.StatusConflict || env.Error.Code != "INVALID_TRANSITION" {
		t.Fatalf("expected 409, got %d %+v", resp.StatusCode, env.Error)
	}
	if _, ok := env.Error.Details["allowed_actions"]; !ok {
		t.Fatalf("conflict should list allowed actions: %v", env.Error.Details)
	}

	resp, env = do(t, app, nethttp.MethodPost, path, fiber.MIMEApplicationJSON, `{"action":"approve"}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("missing actor should be rejected, got %d", resp.StatusCode)
	}

	resp, env = do(t, app, nethttp.MethodPost, path, fiber.MIMEApplicationJSON, `{"action":"Approve","actor":"mgr-1","comment":"ok"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("approve status %d %+v", resp.StatusCode, env.Error)
	}
	var approved ticketBody
	_ = json.Unmarshal(env.Data, &approved)
	if approved.Status != "approved" {
		t.Fatalf("expected approved, got %+v", approved)
	}

	resp, env = do(t, app, nethttp.MethodGet, "/tickets/"+created.ID+"/history", "", "")
	var history []map[string]any
	_ = json.Unmarshal(env.Data, &history)
	if resp.StatusCode != fiber.StatusOK || len(history) != 1 || history[0]["actor"] != "mgr-1" || history[0]["new_status"] != "approved" {
		t.Fatalf("unexpected history %d %v", resp.StatusCode, history)
	}
}

func TestImportPitRecordsFlagsViolation(t *testing.T) {
	app := newTestApp(t, time.Date(2024, 5, 22, 12, 0, 0, 0, time.UTC))
	created := submit(t, app)

	csv := "ticket_number,driver_id,truck_id,material,net_weight,timestamp\n" +
		"A100,drv-7,TRK-12,crushed stone,22.4,2024-05-21T08:30:00Z\n" +
		"B200,drv-7,TRK-12,crushed stone,heavy,2024-05-21T08:30:00Z\n"
	resp, env := do(t, app, nethttp.MethodPost, "/pit-records/import", "text/csv", csv)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("import status %d %+v", resp.StatusCode, env.Error)
	}
	var imported struct {
		Imported int `json:"imported"`
		Rejected []struct {
			Row int `json:"row"`
		} `json:"rejected"`
	}
	_ = json.Unmarshal(env.Data, &imported)
	if imported.Imported != 1 || len(imported.Rejected) != 1 || imported.Rejected[0].Row != 3 {
		t.Fatalf("unexpected import %+v", imported)
	}

	_, env = do(t, app, nethttp.MethodGet, "/tickets/"+created.ID, "", "")
	var fetched ticketBody
	_ = json.Unmarshal(env.Data, &fetched)
	if fetched.Reconciliation == nil || fetched.Reconciliation.Status != "violation" {
		t.Fatalf("expected violation after import, got %+v", fetched.Reconciliation)
	}

	resp, _ = do(t, app, nethttp.MethodPost, "/pit-records/import", "text/csv", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("empty import should be rejected, got %d", resp.StatusCode)
	}
}

func TestReconcileBatch(t *testing.T) {
	app := newTestApp(t, time.Date(2024, 5, 22, 12, 0, 0, 0, time.UTC))
	body := `{
		"tickets": [
			{"ticket_number":"VTK77891","driver_id":"drv-1","truck_id":"TRK-1","material_type":"Sand","quantity":20,"pay_rate":80,"delivery_date":"2024-05-21T08:00:00Z","created_at":"2024-05-21T09:00:00Z"},
			{"ticket_number":"VTK77891","driver_id":"drv-1","truck_id":"TRK-1","material_type":"Sand","quantity":20,"pay_rate":80,"delivery_date":"2024-05-21T08:00:00Z","created_at":"2024-05-21T10:00:00Z"}
		],
		"pit_records": []
	}`
	resp, env := do(t, app, nethttp.MethodPost, "/reconcile", fiber.MIMEApplicationJSON, body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("reconcile status %d %+v", resp.StatusCode, env.Error)
	}
	var items []ticketBody
	_ = json.Unmarshal(env.Data, &items)
	if len(items) != 2 || items[0].Reconciliation.Status != "needs_review" || items[1].Reconciliation.Status != "rejected" {
		t.Fatalf("expected duplicate pair, got %+v", items)
	}
	var summary struct {
		Total   int `json:"total"`
		Flagged int `json:"flagged"`
	}
	_ = json.Unmarshal(env.Summary, &summary)
	if summary.Total != 2 || summary.Flagged != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestReconcileBatchRejectsRepeatedIDs(t *testing.T) {
	app := newTestApp(t, time.Date(2024, 5, 22, 12, 0, 0, 0, time.UTC))
	body := `{
		"tickets": [
			{"id":"x","ticket_number":"VTK77891","driver_id":"drv-1","material_type":"Sand","quantity":20,"pay_rate":80,"delivery_date":"2024-05-21T08:00:00Z"},
			{"id":"x","ticket_number":"VTK77891","driver_id":"drv-2","material_type":"Sand","quantity":20,"pay_rate":80,"delivery_date":"2024-05-21T08:00:00Z"}
		]
	}`
	resp, env := do(t, app, nethttp.MethodPost, "/reconcile", fiber.MIMEApplicationJSON, body)
	if resp.StatusCode != fiber.StatusUnprocessableEntity || env.Error == nil || env.Error.Code != "MALFORMED_TICKET" {
		t.Fatalf("repeated ids should be malformed, got %d %+v", resp.StatusCode, env.Error)
	}
	if _, ok := env.Error.Details["id"]; !ok || env.Error.Details["row"] != float64(2) {
		t.Fatalf("details should point at the second ticket's id: %v", env.Error.Details)
	}
}

func TestWeeklyReportFormats(t *testing.T) {
	app := newTestApp(t, time.Date(2024, 5, 22, 12, 0, 0, 0, time.UTC))
	submit(t, app)

	resp, env := do(t, app, nethttp.MethodGet, "/drivers/drv-7/weeks/2024-05-20/report", "", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("report status %d %+v", resp.StatusCode, env.Error)
	}
	var rep domain.Report
	if err := json.Unmarshal(env.Data, &rep); err != nil {
		t.Fatal(err)
	}
	if rep.TotalTickets != 1 || rep.GrossPay != 1600 || rep.WeekEnding.Format(time.DateOnly) != "2024-05-24" {
		t.Fatalf("unexpected report %+v", rep)
	}

	resp, _ = do(t, app, nethttp.MethodGet, "/drivers/drv-7/weeks/2024-05-24/report?format=csv", "", "")
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || resp.Header.Get("Content-Type") != "text/csv" || !strings.Contains(string(raw), "A-100") {
		t.Fatalf("unexpected csv response %d %q", resp.StatusCode, raw)
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "payweek_drv-7_20240524.csv") {
		t.Fatalf("unexpected disposition %q", resp.Header.Get("Content-Disposition"))
	}

	resp, _ = do(t, app, nethttp.MethodGet, "/drivers/drv-7/weeks/2024-05-24/report?format=xlsx", "", "")
	raw, _ = io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || !strings.HasPrefix(string(raw), "PK") {
		t.Fatalf("expected zip-based xlsx, got %d", resp.StatusCode)
	}

	resp, env = do(t, app, nethttp.MethodGet, "/drivers/drv-7/weeks/2024-05-24/report?format=pdf", "", "")
	if resp.StatusCode != fiber.StatusBadRequest || env.Error.Code != "VALIDATION_FAILED" {
		t.Fatalf("unsupported format should fail validation, got %d", resp.StatusCode)
	}
	resp, _ = do(t, app, nethttp.MethodGet, "/drivers/drv-7/weeks/last-friday/report", "", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("bad date should fail, got %d", resp.StatusCode)
	}
}

func TestHealthMetricsAndUnknownRoutes(t *testing.T) {
	app := newTestApp(t, time.Date(2024, 5, 22, 12, 0, 0, 0, time.UTC))

	resp, _ := do(t, app, nethttp.MethodGet, "/health/ready", "", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("in-memory mode should be ready, got %d", resp.StatusCode)
	}

	resp, env := do(t, app, nethttp.MethodGet, "/nope", "", "")
	if resp.StatusCode != fiber.StatusNotFound || env.Error == nil || env.Error.Code != "NOT_FOUND" {
		t.Fatalf("unknown route should be a JSON 404, got %d", resp.StatusCode)
	}

	resp, _ = do(t, app, nethttp.MethodGet, "/metrics", "", "")
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(string(raw), "http_requests_total") {
		t.Fatalf("metrics should expose request counters, got %d", resp.StatusCode)
	}
}
