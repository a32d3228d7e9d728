// Package payweek buckets tickets into Friday-ending driver pay weeks.
package payweek

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/spec-kit/haul-reconciler/internal/domain"
)

// WeekEndingDay is the weekday every pay week ends on.
const WeekEndingDay = time.Friday

// Key identifies one driver's pay week.
type Key struct {
	DriverID   string
	WeekEnding time.Time
}

// String renders the key as driver/yyyy-mm-dd.
func (k Key) String() string {
	return k.DriverID + "/" + k.WeekEnding.Format(time.DateOnly)
}

var location atomic.Pointer[time.Location]

// SetLocation sets the settlement time zone whose calendar dates define pay
// weeks. Nil restores UTC. Call it once at startup.
func SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	location.Store(loc)
}

// Location returns the settlement time zone.
func Location() *time.Location {
	if loc := location.Load(); loc != nil {
		return loc
	}
	return time.UTC
}

// WeekEnding returns the Friday on or after the calendar date of date in the
// settlement time zone, as midnight UTC. The result does not depend on the
// location date carries, and applying it twice yields the same value.
func WeekEnding(date time.Time) time.Time {
	local := date.In(Location())
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(WeekEndingDay) - int(day.Weekday()) + 7) % 7
	return day.AddDate(0, 0, offset)
}

// WeekBounds returns the first and last day (inclusive) of the week.
func WeekBounds(weekEnding time.Time) (time.Time, time.Time) {
	end := WeekEnding(weekEnding)
	return end.AddDate(0, 0, -6), end
}

// ClosesAt is the instant after which submissions for the week are late:
// the following midnight in the settlement time zone, plus closeDelay.
func ClosesAt(weekEnding time.Time, closeDelay time.Duration) time.Time {
	end := WeekEnding(weekEnding)
	return time.Date(end.Year(), end.Month(), end.Day()+1, 0, 0, 0, 0, Location()).Add(closeDelay)
}

// IsClosed reports whether the week had closed by now.
func IsClosed(weekEnding, now time.Time, closeDelay time.Duration) bool {
	return !now.Before(ClosesAt(weekEnding, closeDelay))
}

// IsLateSubmission reports whether the ticket was created after the pay week
// of its delivery date closed.
func IsLateSubmission(t domain.Ticket, closeDelay time.Duration) bool {
	if t.CreatedAt.IsZero() || t.DeliveryDate.IsZero() {
		return false
	}
	return IsClosed(WeekEnding(t.DeliveryDate), t.CreatedAt, closeDelay)
}

// WeekOf returns the pay week a ticket settles into. A pinned target week
// (set when a late ticket is approved) wins over the delivery date.
func WeekOf(t domain.Ticket) time.Time {
	if t.TargetWeekEnding != nil && !t.TargetWeekEnding.IsZero() {
		return WeekEnding(*t.TargetWeekEnding)
	}
	return WeekEnding(t.DeliveryDate)
}

// KeyOf returns the grouping key for a ticket.
func KeyOf(t domain.Ticket) Key {
	return Key{DriverID: t.DriverID, WeekEnding: WeekOf(t)}
}

// Group buckets tickets by driver and week, ordered by delivery date, then
// submission time, then id. The input slice is not modified.
func Group(tickets []domain.Ticket) map[Key][]domain.Ticket {
	out := make(map[Key][]domain.Ticket)
	for _, t := range tickets {
		k := KeyOf(t)
		out[k] = append(out[k], t)
	}
	for k := range out {
		sortTickets(out[k])
	}
	return out
}

// GroupAnnotated is Group for annotated tickets.
func GroupAnnotated(tickets []domain.AnnotatedTicket) map[Key][]domain.AnnotatedTicket {
	out := make(map[Key][]domain.AnnotatedTicket)
	for _, a := range tickets {
		k := KeyOf(a.Ticket)
		out[k] = append(out[k], a)
	}
	for k := range out {
		group := out[k]
		sort.SliceStable(group, func(i, j int) bool {
			return less(group[i].Ticket, group[j].Ticket)
		})
	}
	return out
}

// SortedKeys returns keys ordered by week then driver.
func SortedKeys[V any](groups map[Key]V) []Key {
	keys := make([]Key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].WeekEnding.Equal(keys[j].WeekEnding) {
			return keys[i].WeekEnding.Before(keys[j].WeekEnding)
		}
		return keys[i].DriverID < keys[j].DriverID
	})
	return keys
}

func sortTickets(tickets []domain.Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		return less(tickets[i], tickets[j])
	})
}

func less(a, b domain.Ticket) bool {
	if !a.DeliveryDate.Equal(b.DeliveryDate) {
		return a.DeliveryDate.Before(b.DeliveryDate)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
