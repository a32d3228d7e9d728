package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestDispatcherRunsAllHandlers(t *testing.T) {
	d := NewInMemoryDispatcher()
	var typed, all int
	d.Subscribe(EventTicketFlagged, func(context.Context, Event) error {
		typed++
		return errors.New("first handler failed")
	})
	d.Subscribe(EventTicketFlagged, func(context.Context, Event) error {
		typed++
		return nil
	})
	d.SubscribeAll(func(context.Context, Event) error {
		all++
		return nil
	})

	err := d.Publish(context.Background(), Event{Type: EventTicketFlagged})
	if err == nil {
		t.Fatalf("handler failure must be reported")
	}
	if typed != 2 || all != 1 {
		t.Fatalf("expected every handler to run, got typed=%d all=%d", typed, all)
	}

	if err := d.Publish(context.Background(), Event{Type: EventPitRecordsImported}); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if all != 2 {
		t.Fatalf("wildcard handler must see every type")
	}
}

func TestKafkaSinkEncodesEvent(t *testing.T) {
	w := &recordingWriter{}
	sink := NewKafkaSink(w, zap.NewNop())
	ev := Event{
		ID:        "ev-1",
		Type:      EventPayWeekSettled,
		DriverID:  "drv-1",
		Timestamp: time.Date(2024, 5, 26, 6, 0, 0, 0, time.UTC),
		Payload:   PayWeekSettledPayload{TotalTickets: 4, GrossPay: 370},
	}
	if err := sink.Handle(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "drv-1" || string(msg.Headers[0].Value) != string(EventPayWeekSettled) {
		t.Fatalf("unexpected key/headers %q %+v", msg.Key, msg.Headers)
	}
	var decoded struct {
		Type    string `json:"type"`
		Payload struct {
			GrossPay float64 `json:"gross_pay"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Type != "pay_week_settled" || decoded.Payload.GrossPay != 370 {
		t.Fatalf("unexpected body %s", msg.Value)
	}
}

func TestKafkaSinkReportsWriteFailure(t *testing.T) {
	sink := NewKafkaSink(&recordingWriter{err: errors.New("no brokers")}, zap.NewNop())
	if err := sink.Handle(context.Background(), Event{Type: EventTicketFlagged, TicketID: "t1"}); err == nil {
		t.Fatalf("expected error")
	}
}
