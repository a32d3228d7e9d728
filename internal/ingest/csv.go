package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/haul-reconciler/internal/domain"
)

// column names recognised in pit/scale exports, keyed by canonical field.
var columnAliases = map[string][]string{
	"id":             {"id", "record_id", "scale_record_id"},
	"ticket_number":  {"ticket_number", "ticket", "ticket_no", "ticket #", "ticket#", "reference", "reference_number", "ref"},
	"driver_id":      {"driver_id", "driver", "driver_number", "driver_code"},
	"truck_id":       {"truck_id", "truck", "truck_number", "truck_no", "unit_number"},
	"material_type":  {"material_type", "material", "product"},
	"net_weight":     {"net_weight", "net", "net_tons", "weight", "net_wt"},
	"unit":           {"unit", "uom", "weight_unit"},
	"timestamp":      {"timestamp", "date", "ticket_date", "delivery_date", "datetime", "scale_time"},
	"source":         {"source", "source_tag"},
	"customer_name":  {"customer_name", "customer", "job"},
	"ocr_confidence": {"ocr_confidence", "confidence", "extraction_confidence"},
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"1/2/2006 15:04",
	"01/02/2006",
	"1/2/2006",
	time.DateOnly,
}

// RowError is a rejected CSV row.
type RowError struct {
	Row int    `json:"row"`
	Err string `json:"error"`
}

// ImportResult holds the normalized records and the rows that were rejected.
type ImportResult struct {
	Records  []domain.Ticket
	Rejected []RowError
}

// ParsePitCSV maps an externally produced scale export onto tickets. Rows that
// fail validation are reported in Rejected and never partially ingested. A
// missing required column fails the whole file.
func ParsePitCSV(r io.Reader, loc *time.Location) (ImportResult, error) {
	if loc == nil {
		loc = time.UTC
	}
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ImportResult{}, fmt.Errorf("%w: empty file", ErrMalformedTicket)
		}
		return ImportResult{}, fmt.Errorf("read header: %w", err)
	}
	cols := mapColumns(header)
	for _, required := range []string{"ticket_number", "net_weight", "timestamp"} {
		if _, ok := cols[required]; !ok {
			return ImportResult{}, fmt.Errorf("%w: missing column %q", ErrMalformedTicket, required)
		}
	}

	result := ImportResult{}
	row := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			result.Rejected = append(result.Rejected, RowError{Row: row, Err: err.Error()})
			continue
		}
		if blank(record) {
			continue
		}
		t, err := parseRow(record, cols, loc)
		if err == nil {
			err = Validate(t)
		}
		if err != nil {
			var mte *MalformedTicketError
			if errors.As(err, &mte) {
				mte.Row = row
			}
			result.Rejected = append(result.Rejected, RowError{Row: row, Err: err.Error()})
			continue
		}
		result.Records = append(result.Records, t)
	}
	return result, nil
}

func parseRow(record []string, cols map[string]int, loc *time.Location) (domain.Ticket, error) {
	get := func(field string) string {
		idx, ok := cols[field]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}
	problems := map[string]string{}

	t := domain.Ticket{
		ID:           get("id"),
		TicketNumber: get("ticket_number"),
		DriverID:     get("driver_id"),
		TruckID:      get("truck_id"),
		MaterialType: get("material_type"),
		CustomerName: get("customer_name"),
		Unit:         get("unit"),
		Source:       domain.TicketSourcePit,
		Status:       domain.TicketStatusPending,
	}
	if raw := get("source"); raw != "" {
		t.Source = domain.ParseTicketSource(raw)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	if raw := get("net_weight"); raw != "" {
		net, err := parseNumber(raw)
		if err != nil {
			problems["net_weight"] = "is not a number"
		} else {
			t.NetWeight = &net
			t.Quantity = net
		}
	} else {
		problems["net_weight"] = "is required"
	}
	if raw := get("timestamp"); raw != "" {
		ts, err := parseTimestamp(raw, loc)
		if err != nil {
			problems["timestamp"] = "is not a recognised date/time"
		} else {
			t.DeliveryDate = ts
		}
	}
	if raw := get("ocr_confidence"); raw != "" {
		c, err := parseNumber(raw)
		if err != nil {
			problems["ocr_confidence"] = "is not a number"
		} else {
			if c > 1 {
				c /= 100
			}
			t.OCRConfidence = &c
		}
	}
	if len(problems) > 0 {
		return t, &MalformedTicketError{Problems: problems}
	}
	return Normalize(t), nil
}

func mapColumns(header []string) map[string]int {
	lookup := map[string]string{}
	for canonical, aliases := range columnAliases {
		for _, a := range aliases {
			lookup[a] = canonical
		}
	}
	cols := map[string]int{}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		name = strings.ReplaceAll(name, " ", "_")
		canonical, ok := lookup[name]
		if !ok {
			canonical, ok = lookup[strings.ReplaceAll(name, "_", " ")]
		}
		if !ok {
			continue
		}
		if _, seen := cols[canonical]; !seen {
			cols[canonical] = i
		}
	}
	return cols
}

func parseNumber(raw string) (float64, error) {
	cleaned := strings.NewReplacer(",", "", "$", "", " ", "").Replace(raw)
	cleaned = strings.TrimSuffix(cleaned, "%")
	return strconv.ParseFloat(cleaned, 64)
}

func parseTimestamp(raw string, loc *time.Location) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
