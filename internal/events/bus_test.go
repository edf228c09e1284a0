package events_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/backend-billing/internal/events"
	"github.com/noah-isme/backend-billing/internal/store"
)

type stubStore struct {
	inserted []store.DomainEvent
	err      error
}

func (s *stubStore) InsertDomainEvent(_ context.Context, topic string, aggregateID pgtype.UUID, payload []byte) (store.DomainEvent, error) {
	if s.err != nil {
		return store.DomainEvent{}, s.err
	}
	ev := store.DomainEvent{ID: store.NewUUID(), Topic: topic, AggregateID: aggregateID, Payload: payload}
	s.inserted = append(s.inserted, ev)
	return ev, nil
}

type stubNotifier struct {
	seen []store.DomainEvent
	err  error
}

func (n *stubNotifier) Notify(_ context.Context, ev store.DomainEvent) error {
	n.seen = append(n.seen, ev)
	return n.err
}

func TestEmitPersistsAndFansOut(t *testing.T) {
	st := &stubStore{}
	n := &stubNotifier{}
	bus := &events.Bus{Store: st, Notifiers: []events.Notifier{n}}

	ev, err := bus.Emit(context.Background(), events.TopicInvoicePaid, store.NewUUID(), map[string]any{"total_ttc": 12000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Topic != events.TopicInvoicePaid {
		t.Fatalf("unexpected topic %q", ev.Topic)
	}
	if len(st.inserted) != 1 || len(n.seen) != 1 {
		t.Fatalf("expected one persisted and one notified event, got %d/%d", len(st.inserted), len(n.seen))
	}
}

func TestEmitNotifierFailureKeepsEvent(t *testing.T) {
	st := &stubStore{}
	n := &stubNotifier{err: errors.New("boom")}
	bus := &events.Bus{Store: st, Notifiers: []events.Notifier{n}}

	_, err := bus.Emit(context.Background(), events.TopicPaymentRecorded, store.NewUUID(), nil)
	if err == nil {
		t.Fatal("expected joined notifier error")
	}
	if len(st.inserted) != 1 {
		t.Fatalf("notifier failure must not undo persistence, got %d events", len(st.inserted))
	}
}

func TestEmitValidatesInput(t *testing.T) {
	bus := &events.Bus{Store: &stubStore{}}
	if _, err := bus.Emit(context.Background(), " ", store.NewUUID(), nil); err == nil {
		t.Fatal("expected error for blank topic")
	}
	if _, err := bus.Emit(context.Background(), events.TopicInvoiceSent, pgtype.UUID{}, nil); err == nil {
		t.Fatal("expected error for unset aggregate id")
	}
}
