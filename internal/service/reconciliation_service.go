package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/haul-reconciler/internal/baseline"
	"github.com/spec-kit/haul-reconciler/internal/confidence"
	"github.com/spec-kit/haul-reconciler/internal/domain"
	"github.com/spec-kit/haul-reconciler/internal/events"
	"github.com/spec-kit/haul-reconciler/internal/ingest"
	"github.com/spec-kit/haul-reconciler/internal/keylock"
	"github.com/spec-kit/haul-reconciler/internal/matcher"
	"github.com/spec-kit/haul-reconciler/internal/observability"
	"github.com/spec-kit/haul-reconciler/internal/payweek"
	"github.com/spec-kit/haul-reconciler/internal/repository"
	apperrors "github.com/spec-kit/haul-reconciler/pkg/util/errorutil"
)

// ReconciliationService coordinates ingestion, annotation, manager decisions
// and weekly reports.
type ReconciliationService struct {
	tickets    repository.TicketRepository
	history    repository.TicketHistoryRepository
	cache      repository.ReportCache
	dispatcher events.Dispatcher
	baselines  *baseline.Store
	scorer     *confidence.Scorer
	matcher    *matcher.Matcher
	policy     domain.Policy
	locks      *keylock.Locker
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// Dependencies bundles collaborators for the reconciliation service.
type Dependencies struct {
	TicketRepo  repository.TicketRepository
	HistoryRepo repository.TicketHistoryRepository
	ReportCache repository.ReportCache
	Dispatcher  events.Dispatcher
	Policy      domain.Policy
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	Now         func() time.Time
}

// NewReconciliationService constructs the service with an empty baseline
// store; call WarmBaselines to load history.
func NewReconciliationService(deps Dependencies) *ReconciliationService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cache := deps.ReportCache
	if cache == nil {
		cache = repository.NoopReportCache{}
	}
	store := baseline.NewStore(deps.Policy)
	return &ReconciliationService{
		tickets:    deps.TicketRepo,
		history:    deps.HistoryRepo,
		cache:      cache,
		dispatcher: deps.Dispatcher,
		baselines:  store,
		scorer:     confidence.NewScorer(deps.Policy, store),
		matcher:    matcher.New(deps.Policy, now),
		policy:     deps.Policy,
		locks:      keylock.New(),
		metrics:    deps.Metrics,
		logger:     logger,
		now:        now,
	}
}

// Policy returns the active thresholds.
func (s *ReconciliationService) Policy() domain.Policy {
	return s.policy
}

// SubmitTicket validates and stores an internally dispatched ticket. A ticket
// arriving after its pay week closed is held as missing_pending_approval.
func (s *ReconciliationService) SubmitTicket(ctx context.Context, input domain.Ticket) (*domain.AnnotatedTicket, error) {
	now := s.now().UTC()
	t := ingest.Normalize(input)
	t.Source = domain.TicketSourceInternal
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Status = domain.TicketStatusPending
	t.TargetWeekEnding = nil
	t.DecidedBy, t.DecidedAt, t.VoidedAt = nil, nil, nil

	if err := ingest.Validate(t); err != nil {
		return nil, malformed(err)
	}
	late := !t.DeliveryDate.IsZero() && payweek.IsLateSubmission(t, s.policy.PayWeekCloseDelay)
	if late {
		t.Status = domain.TicketStatusMissingPendingApproval
	}

	if err := s.tickets.Create(ctx, &t); err != nil {
		if errors.Is(err, repository.ErrTicketExists) {
			return nil, apperrors.NewConflict("ticket id already in use", map[string]any{"id": t.ID})
		}
		return nil, err
	}
	s.metrics.TicketIngested(string(t.Source))
	s.invalidateRelated(ctx, t)

	annotated, err := s.Annotate(ctx, []domain.Ticket{t})
	if err != nil {
		return nil, err
	}
	result := annotated[0]

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketSubmitted,
		TicketID: t.ID,
		DriverID: t.DriverID,
		Payload: events.TicketSubmittedPayload{
			TicketNumber: t.TicketNumber,
			Status:       t.Status,
			Late:         late,
			PayableTotal: t.TotalAmount(),
		},
	})
	if s.isFlagged(result) {
		s.publishFlagged(ctx, result)
	}
	if late {
		s.logger.Info("late ticket held for approval",
			zap.String("ticket_id", t.ID),
			zap.String("driver_id", t.DriverID),
			zap.Time("week_ending", payweek.WeekOf(t)))
	}
	return &result, nil
}

// ImportPitCSV ingests a pit/scale export. Malformed rows are rejected
// individually and returned; the accepted rows are stored together.
func (s *ReconciliationService) ImportPitCSV(ctx context.Context, r io.Reader) (ingest.ImportResult, error) {
	result, err := ingest.ParsePitCSV(r, payweek.Location())
	if err != nil {
		if errors.Is(err, ingest.ErrMalformedTicket) {
			return result, malformed(err)
		}
		return result, err
	}
	now := s.now().UTC()
	for i := range result.Records {
		result.Records[i].Source = domain.TicketSourcePit
		result.Records[i].CreatedAt = now
		result.Records[i].UpdatedAt = now
	}
	if err := s.tickets.CreateBatch(ctx, result.Records); err != nil {
		return result, fmt.Errorf("store pit records: %w", err)
	}
	for range result.Records {
		s.metrics.TicketIngested(string(domain.TicketSourcePit))
	}
	s.metrics.RowsRejected(len(result.Rejected))
	s.invalidateRelated(ctx, result.Records...)

	s.publishEvent(ctx, events.Event{
		Type: events.EventPitRecordsImported,
		Payload: events.PitRecordsImportedPayload{
			Accepted: len(result.Records),
			Rejected: len(result.Rejected),
		},
	})
	s.logger.Info("pit records imported",
		zap.Int("accepted", len(result.Records)),
		zap.Int("rejected", len(result.Rejected)))
	return result, nil
}

// GetTicket returns a stored ticket with fresh confidence and reconciliation.
func (s *ReconciliationService) GetTicket(ctx context.Context, id string) (*domain.AnnotatedTicket, error) {
	t, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, notFound("ticket", id, err)
	}
	if t.Source == domain.TicketSourcePit {
		return &domain.AnnotatedTicket{Ticket: *t}, nil
	}
	annotated, err := s.Annotate(ctx, []domain.Ticket{*t})
	if err != nil {
		return nil, err
	}
	return &annotated[0], nil
}

// Annotate scores and reconciles stored tickets against the persisted pit
// records and every internal ticket sharing their numbers.
func (s *ReconciliationService) Annotate(ctx context.Context, tickets []domain.Ticket) ([]domain.AnnotatedTicket, error) {
	if len(tickets) == 0 {
		return []domain.AnnotatedTicket{}, nil
	}
	pits, err := s.loadPitRecords(ctx, tickets)
	if err != nil {
		return nil, err
	}
	siblings, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		Source:        domain.TicketSourceInternal,
		TicketNumbers: normalizedNumbers(tickets),
	})
	if err != nil {
		return nil, fmt.Errorf("load duplicate candidates: %w", err)
	}
	dupes := matcher.BuildDuplicateIndex(mergeByID(siblings, tickets))
	return s.annotate(ctx, tickets, pits, dupes)
}

// ReconcileBatch annotates caller-supplied tickets against caller-supplied pit
// records without touching storage. Duplicates are detected within the batch.
func (s *ReconciliationService) ReconcileBatch(ctx context.Context, tickets, pits []domain.Ticket) ([]domain.AnnotatedTicket, error) {
	prepared := make([]domain.Ticket, len(tickets))
	ids := make(map[string]struct{}, len(tickets))
	for i, t := range tickets {
		t = ingest.Normalize(t)
		t.Source = domain.TicketSourceInternal
		if t.ID == "" {
			t.ID = fmt.Sprintf("batch-%d", i)
		}
		if err := ingest.Validate(t); err != nil {
			return nil, withRow(err, i)
		}
		// The duplicate index is keyed by id; a repeated id would hide a pair.
		if _, dup := ids[t.ID]; dup {
			return nil, withRow(&ingest.MalformedTicketError{
				Problems: map[string]string{"id": "is used by more than one ticket in the batch"},
			}, i)
		}
		ids[t.ID] = struct{}{}
		prepared[i] = t
	}
	pitRecords := make([]domain.Ticket, len(pits))
	for i, p := range pits {
		p = ingest.Normalize(p)
		p.Source = domain.TicketSourcePit
		if p.ID == "" {
			p.ID = fmt.Sprintf("pit-%d", i)
		}
		if err := ingest.Validate(p); err != nil {
			return nil, withRow(err, i)
		}
		pitRecords[i] = p
	}
	return s.annotate(ctx, prepared, pitRecords, matcher.BuildDuplicateIndex(prepared))
}

func (s *ReconciliationService) annotate(ctx context.Context, tickets, pits []domain.Ticket, dupes matcher.DuplicateIndex) ([]domain.AnnotatedTicket, error) {
	out := make([]domain.AnnotatedTicket, len(tickets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.policy.AnnotateWorkers)
	for i := range tickets {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t := tickets[i]
			out[i] = domain.AnnotatedTicket{
				Ticket:         t,
				Confidence:     s.scorer.ScoreTicket(t),
				Reconciliation: s.matcher.Reconcile(t, pits, dupes),
			}
			s.metrics.ReconciliationOutcome(string(out[i].Reconciliation.Status))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// loadPitRecords fetches pit records sharing a ticket number with the batch
// plus those inside the match and dispatch windows around it.
func (s *ReconciliationService) loadPitRecords(ctx context.Context, tickets []domain.Ticket) ([]domain.Ticket, error) {
	byNumber, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		Source:        domain.TicketSourcePit,
		TicketNumbers: normalizedNumbers(tickets),
	})
	if err != nil {
		return nil, fmt.Errorf("load pit records by number: %w", err)
	}

	window := s.policy.MatchWindow
	if s.policy.DispatchWindow > window {
		window = s.policy.DispatchWindow
	}
	first, last := tickets[0].DeliveryDate, tickets[0].DeliveryDate
	for _, t := range tickets[1:] {
		if t.DeliveryDate.Before(first) {
			first = t.DeliveryDate
		}
		if t.DeliveryDate.After(last) {
			last = t.DeliveryDate
		}
	}
	from, to := first.Add(-window), last.Add(window+time.Second)
	nearby, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		Source:        domain.TicketSourcePit,
		DeliveredFrom: &from,
		DeliveredTo:   &to,
	})
	if err != nil {
		return nil, fmt.Errorf("load pit records by window: %w", err)
	}
	return mergeByID(byNumber, nearby), nil
}

func (s *ReconciliationService) isFlagged(a domain.AnnotatedTicket) bool {
	return a.Reconciliation.Status != domain.ReconciliationClear ||
		a.Confidence.Overall < s.policy.LowConfidenceThreshold
}

func (s *ReconciliationService) publishFlagged(ctx context.Context, a domain.AnnotatedTicket) {
	reasons := append([]string(nil), a.Reconciliation.Reasons...)
	if weakest, ok := a.Confidence.Fields[a.Confidence.Weakest]; ok && a.Confidence.Overall < s.policy.LowConfidenceThreshold {
		reasons = append(reasons, fmt.Sprintf("%s: %s", weakest.Field, weakest.Reason))
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketFlagged,
		TicketID: a.Ticket.ID,
		DriverID: a.Ticket.DriverID,
		Payload: events.TicketFlaggedPayload{
			TicketNumber:   a.Ticket.TicketNumber,
			Reconciliation: a.Reconciliation.Status,
			Reasons:        reasons,
			Confidence:     a.Confidence.Overall,
		},
	})
}

// invalidateRelated clears the cached reports of every week the changed tickets
// touch, plus the weeks of all internal tickets sharing their numbers, since a
// duplicate in one driver's week changes the outcome in the other's.
func (s *ReconciliationService) invalidateRelated(ctx context.Context, changed ...domain.Ticket) {
	if len(changed) == 0 {
		return
	}
	keys := map[payweek.Key]struct{}{}
	for _, t := range changed {
		if t.DriverID != "" {
			keys[payweek.KeyOf(t)] = struct{}{}
		}
	}
	if numbers := normalizedNumbers(changed); len(numbers) > 0 {
		matched, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
			Source:        domain.TicketSourceInternal,
			TicketNumbers: numbers,
		})
		if err != nil {
			s.logger.Warn("resolve reports sharing ticket numbers", zap.Error(err))
		}
		for _, t := range matched {
			keys[payweek.KeyOf(t)] = struct{}{}
		}
	}
	for key := range keys {
		s.invalidate(ctx, key)
	}
}

// invalidate drops one cached report. It takes the report lock so that a build
// already in flight stores its result before the entry is removed.
func (s *ReconciliationService) invalidate(ctx context.Context, key payweek.Key) {
	if key.DriverID == "" {
		return
	}
	unlock := s.locks.Lock(reportLockKey(key))
	defer unlock()
	if err := s.cache.Invalidate(ctx, key.DriverID, key.WeekEnding); err != nil {
		s.logger.Warn("report cache invalidation failed",
			zap.String("key", key.String()),
			zap.Error(err))
	}
}

func (s *ReconciliationService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	err := s.dispatcher.Publish(ctx, event)
	s.metrics.EventPublished(string(event.Type), err)
	if err != nil {
		s.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func normalizedNumbers(tickets []domain.Ticket) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(tickets))
	for _, t := range tickets {
		n := t.NormalizedTicketNumber()
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// mergeByID concatenates ticket sets, later sets overriding earlier ones.
func mergeByID(sets ...[]domain.Ticket) []domain.Ticket {
	index := map[string]int{}
	var out []domain.Ticket
	for _, set := range sets {
		for _, t := range set {
			if i, ok := index[t.ID]; ok {
				out[i] = t
				continue
			}
			index[t.ID] = len(out)
			out = append(out, t)
		}
	}
	return out
}

func malformed(err error) error {
	details := map[string]any{}
	var mte *ingest.MalformedTicketError
	if errors.As(err, &mte) {
		for field, problem := range mte.Problems {
			details[field] = problem
		}
		if mte.Row > 0 {
			details["row"] = mte.Row
		}
	} else {
		details["reason"] = err.Error()
	}
	return apperrors.NewMalformedTicket(err, details)
}

func withRow(err error, index int) error {
	var mte *ingest.MalformedTicketError
	if errors.As(err, &mte) {
		mte.Row = index + 1
	}
	return malformed(err)
}

func notFound(resource, id string, err error) error {
	de := apperrors.ToDomainError(err)
	if de.Code == "NOT_FOUND" {
		return apperrors.NewNotFound(resource, map[string]any{"id": id})
	}
	return err
}
