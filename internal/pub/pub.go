package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	EventMovePosted           = "move.posted"
	EventMoveCancelled        = "move.cancelled"
	EventPaymentPosted        = "payment.posted"
	EventReconcileCreated     = "reconcile.created"
	EventReconcileBroken      = "reconcile.broken"
	EventStatementLineMatched = "statement_line.matched"
)

// LedgerEvent is the payload shared by all topics. Only the fields relevant
// to the event type are set.
type LedgerEvent struct {
	EventType       string          `json:"event_type"`
	MoveID          int64           `json:"move_id,omitempty"`
	MoveName        string          `json:"move_name,omitempty"`
	PaymentID       int64           `json:"payment_id,omitempty"`
	FullReconcileID int64           `json:"full_reconcile_id,omitempty"`
	StatementLineID int64           `json:"statement_line_id,omitempty"`
	JournalID       int64           `json:"journal_id,omitempty"`
	Amount          decimal.Decimal `json:"amount,omitempty"`
	Currency        string          `json:"currency,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

type LedgerEventPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewLedgerEventPublisher(writer *kafka.Writer, logger *zap.Logger) *LedgerEventPublisher {
	return &LedgerEventPublisher{writer: writer, logger: logger}
}

// Publish sends one event. Failures are logged and swallowed: event delivery
// never rolls back a committed entry.
func (p *LedgerEventPublisher) Publish(ctx context.Context, event *LedgerEvent) {
	if p == nil || p.writer == nil {
		return
	}
	event.Timestamp = time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal ledger event", zap.Error(err), zap.String("type", event.EventType))
		return
	}

	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%s:%d", event.EventType, event.MoveID)),
		Value: payload,
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish ledger event",
			zap.Error(err),
			zap.String("type", event.EventType),
		)
		return
	}
	p.logger.Debug("ledger event published", zap.String("type", event.EventType))
}

func (p *LedgerEventPublisher) MovePosted(ctx context.Context, moveID int64, name string, journalID int64) {
	p.Publish(ctx, &LedgerEvent{
		EventType: EventMovePosted,
		MoveID:    moveID,
		MoveName:  name,
		JournalID: journalID,
	})
}

func (p *LedgerEventPublisher) PaymentPosted(ctx context.Context, paymentID, moveID int64, amount decimal.Decimal, currency string) {
	p.Publish(ctx, &LedgerEvent{
		EventType: EventPaymentPosted,
		PaymentID: paymentID,
		MoveID:    moveID,
		Amount:    amount,
		Currency:  currency,
	})
}

func (p *LedgerEventPublisher) ReconcileCreated(ctx context.Context, fullID int64) {
	p.Publish(ctx, &LedgerEvent{EventType: EventReconcileCreated, FullReconcileID: fullID})
}

func (p *LedgerEventPublisher) ReconcileBroken(ctx context.Context, fullID int64) {
	p.Publish(ctx, &LedgerEvent{EventType: EventReconcileBroken, FullReconcileID: fullID})
}

func (p *LedgerEventPublisher) StatementLineMatched(ctx context.Context, lineID, moveID int64) {
	p.Publish(ctx, &LedgerEvent{
		EventType:       EventStatementLineMatched,
		StatementLineID: lineID,
		MoveID:          moveID,
	})
}
