package handlers

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/haul-reconciler/internal/export"
	"github.com/spec-kit/haul-reconciler/internal/service"
	apperrors "github.com/spec-kit/haul-reconciler/pkg/util/errorutil"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ReportsHandler serves weekly settlement reports.
type ReportsHandler struct {
	service *service.ReconciliationService
}

// NewReportsHandler constructs handler.
func NewReportsHandler(svc *service.ReconciliationService) *ReportsHandler {
	return &ReportsHandler{service: svc}
}

// WeeklyReport GET /drivers/:driverID/weeks/:weekEnding/report. Any date in
// the week is accepted and normalized to its Friday.
func (h *ReportsHandler) WeeklyReport(c *fiber.Ctx) error {
	driverID := strings.TrimSpace(c.Params("driverID"))
	if driverID == "" {
		return apperrors.NewValidationError("driver id required", nil)
	}
	week, err := parseDate(c.Params("weekEnding"))
	if err != nil {
		return apperrors.NewValidationError("week ending must be YYYY-MM-DD", map[string]any{"week_ending": c.Params("weekEnding")})
	}

	format := strings.ToLower(c.Query("format", "json"))
	if format != "json" && format != "csv" && format != "xlsx" {
		return apperrors.NewValidationError("unsupported format", map[string]any{"format": format, "allowed": []string{"json", "csv", "xlsx"}})
	}

	rep, err := h.service.BuildWeeklyReport(c.UserContext(), driverID, week)
	if err != nil {
		return err
	}

	switch format {
	case "csv":
		var buf bytes.Buffer
		if err := export.WriteCSV(&buf, rep); err != nil {
			return apperrors.NewInternalError(err)
		}
		c.Set(fiber.HeaderContentType, "text/csv")
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", export.Filename(rep, "csv")))
		return c.Send(buf.Bytes())
	case "xlsx":
		data, err := export.XLSX(rep)
		if err != nil {
			return apperrors.NewInternalError(err)
		}
		c.Set(fiber.HeaderContentType, xlsxContentType)
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", export.Filename(rep, "xlsx")))
		return c.Send(data)
	}
	return c.JSON(fiber.Map{"data": rep})
}
