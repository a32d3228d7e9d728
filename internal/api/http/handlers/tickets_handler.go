package handlers

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/haul-reconciler/internal/api/dto"
	"github.com/spec-kit/haul-reconciler/internal/domain"
	"github.com/spec-kit/haul-reconciler/internal/ingest"
	"github.com/spec-kit/haul-reconciler/internal/lifecycle"
	"github.com/spec-kit/haul-reconciler/internal/payweek"
	"github.com/spec-kit/haul-reconciler/internal/service"
	apperrors "github.com/spec-kit/haul-reconciler/pkg/util/errorutil"
)

// TicketsHandler serves ticket intake, lookup and lifecycle endpoints.
type TicketsHandler struct {
	service *service.ReconciliationService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(svc *service.ReconciliationService) *TicketsHandler {
	return &TicketsHandler{service: svc}
}

// SubmitTicket POST /tickets.
func (h *TicketsHandler) SubmitTicket(c *fiber.Ctx) error {
	var req dto.TicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := ticketFromRequest(req)
	if err != nil {
		return err
	}
	annotated, err := h.service.SubmitTicket(c.UserContext(), ticket)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": annotatedResponse(*annotated)})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	annotated, err := h.service.GetTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": annotatedResponse(*annotated)})
}

// ListHistory GET /tickets/:id/history.
func (h *TicketsHandler) ListHistory(c *fiber.Ctx) error {
	entries, err := h.service.ListHistory(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": historyResponses(entries)})
}

// ApplyAction POST /tickets/:id/actions.
func (h *TicketsHandler) ApplyAction(c *fiber.Ctx) error {
	var req dto.ActionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Action == "" {
		return apperrors.NewValidationError("action required", nil)
	}
	ticketID := c.Params("id")
	if _, err := h.service.ApplyAction(c.UserContext(), ticketID, service.ActionInput{
		Action:  domain.TicketAction(strings.ToLower(strings.TrimSpace(string(req.Action)))),
		Actor:   req.Actor,
		Comment: req.Comment,
	}); err != nil {
		return err
	}
	annotated, err := h.service.GetTicket(c.UserContext(), ticketID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": annotatedResponse(*annotated)})
}

// ImportPitRecords POST /pit-records/import. Accepts a raw text/csv body or a
// multipart upload in the "file" field.
func (h *TicketsHandler) ImportPitRecords(c *fiber.Ctx) error {
	var body io.Reader = bytes.NewReader(c.Body())
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return apperrors.NewValidationError("unreadable upload", nil)
		}
		defer f.Close()
		body = f
	} else if len(c.Body()) == 0 {
		return apperrors.NewValidationError("csv body required", nil)
	}

	result, err := h.service.ImportPitCSV(c.UserContext(), body)
	if err != nil {
		return err
	}
	resp := dto.ImportResponse{Imported: len(result.Records), Rejected: make([]dto.RejectedRow, 0, len(result.Rejected))}
	for _, r := range result.Rejected {
		resp.Rejected = append(resp.Rejected, dto.RejectedRow{Row: r.Row, Error: r.Err})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": resp})
}

// Reconcile POST /reconcile. Nothing is persisted.
func (h *TicketsHandler) Reconcile(c *fiber.Ctx) error {
	var req dto.ReconcileRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	tickets, err := ticketsFromRequests(req.Tickets)
	if err != nil {
		return err
	}
	pits, err := ticketsFromRequests(req.PitRecords)
	if err != nil {
		return err
	}
	annotated, err := h.service.ReconcileBatch(c.UserContext(), tickets, pits)
	if err != nil {
		return err
	}

	threshold := h.service.Policy().LowConfidenceThreshold
	summary := dto.ReconcileSummary{Total: len(annotated), Outcomes: map[domain.ReconciliationStatus]int{}}
	items := make([]dto.TicketResponse, 0, len(annotated))
	for _, a := range annotated {
		summary.Outcomes[a.Reconciliation.Status]++
		if a.Reconciliation.Status != domain.ReconciliationClear || a.Confidence.Overall < threshold {
			summary.Flagged++
		}
		items = append(items, annotatedResponse(a))
	}
	return c.JSON(fiber.Map{"data": items, "summary": summary})
}

func ticketsFromRequests(reqs []dto.TicketRequest) ([]domain.Ticket, error) {
	out := make([]domain.Ticket, 0, len(reqs))
	for i, r := range reqs {
		t, err := ticketFromRequest(r)
		if err != nil {
			de := apperrors.ToDomainError(err)
			if de.Details != nil {
				de.Details["index"] = i
			}
			return nil, de
		}
		out = append(out, t)
	}
	return out, nil
}

func ticketFromRequest(req dto.TicketRequest) (domain.Ticket, error) {
	problems := map[string]any{}
	parse := func(field, raw string) *time.Time {
		if strings.TrimSpace(raw) == "" {
			return nil
		}
		t, err := parseDate(raw)
		if err != nil {
			problems[field] = "invalid date"
			return nil
		}
		return &t
	}

	t := domain.Ticket{
		ID:            req.ID,
		TicketNumber:  req.TicketNumber,
		DriverID:      req.DriverID,
		TruckID:       req.TruckID,
		CustomerName:  req.CustomerName,
		Route:         req.Route,
		MaterialType:  req.MaterialType,
		Quantity:      req.Quantity,
		Unit:          req.Unit,
		PayRate:       req.PayRate,
		BillRate:      req.BillRate,
		NetWeight:     req.NetWeight,
		OCRConfidence: req.OCRConfidence,
		Status:        domain.TicketStatus(req.Status),
	}
	if d := parse("delivery_date", req.DeliveryDate); d != nil {
		t.DeliveryDate = *d
	}
	if d := parse("created_at", req.CreatedAt); d != nil {
		t.CreatedAt = *d
	}
	t.DispatchStart = parse("dispatch_start", req.DispatchStart)
	t.DispatchEnd = parse("dispatch_end", req.DispatchEnd)
	if req.Status != "" && !t.Status.Valid() {
		problems["status"] = "unknown status"
	}
	if len(problems) > 0 {
		return t, apperrors.NewMalformedTicket(ingest.ErrMalformedTicket, problems)
	}
	return t, nil
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", time.DateOnly}

// parseDate keeps an explicit offset; values without one are read as
// settlement-zone wall time.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, raw, payweek.Location())
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func annotatedResponse(a domain.AnnotatedTicket) dto.TicketResponse {
	resp := ticketResponse(a.Ticket)
	if a.Ticket.Source == domain.TicketSourceInternal {
		conf := a.Confidence
		rec := a.Reconciliation
		resp.Confidence = &conf
		resp.Reconciliation = &rec
	}
	return resp
}

func ticketResponse(t domain.Ticket) dto.TicketResponse {
	resp := dto.TicketResponse{
		ID:             t.ID,
		TicketNumber:   t.TicketNumber,
		DriverID:       t.DriverID,
		TruckID:        t.TruckID,
		CustomerName:   t.CustomerName,
		Route:          t.Route,
		MaterialType:   t.MaterialType,
		Quantity:       t.Quantity,
		Unit:           t.Unit,
		PayRate:        t.PayRate,
		BillRate:       t.BillRate,
		NetWeight:      t.NetWeight,
		TotalAmount:    t.TotalAmount(),
		PayableAmount:  t.PayableAmount(),
		DeliveryDate:   t.DeliveryDate,
		CreatedAt:      t.CreatedAt,
		Status:         t.Status,
		Source:         t.Source,
		OCRConfidence:  t.OCRConfidence,
		DecidedBy:      t.DecidedBy,
		DecidedAt:      t.DecidedAt,
		AllowedActions: lifecycle.AllowedActions(t.Status),
	}
	if !t.DeliveryDate.IsZero() {
		resp.PayWeekEnding = payweek.WeekOf(t).Format(time.DateOnly)
	}
	if t.TargetWeekEnding != nil {
		s := t.TargetWeekEnding.Format(time.DateOnly)
		resp.TargetWeekEnding = &s
	}
	if resp.AllowedActions == nil {
		resp.AllowedActions = []domain.TicketAction{}
	}
	return resp
}

func historyResponses(entries []domain.TicketHistory) []dto.TicketHistoryResponse {
	resp := make([]dto.TicketHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, dto.TicketHistoryResponse{
			ID:        entry.ID,
			Actor:     entry.Actor,
			Action:    entry.Action,
			OldStatus: entry.OldStatus,
			NewStatus: entry.NewStatus,
			Comment:   entry.Comment,
			CreatedAt: entry.CreatedAt,
		})
	}
	return resp
}
