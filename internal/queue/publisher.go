package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/dkaryakin/booking-engine/internal/model"
)

const eventsQueueName = "booking.events"

// Publisher pushes engine events onto the booking.events queue.  It
// satisfies the engine's event sink: delivery is fire-and-forget, so a
// broker outage degrades to log lines and never fails a booking
// operation.  Messages are marked persistent.
type Publisher struct {
	url    string
	logger *zap.Logger
}

// NewPublisher returns a publisher for the broker at url.
func NewPublisher(url string, logger *zap.Logger) *Publisher {
	return &Publisher{url: url, logger: logger}
}

func (p *Publisher) publish(ctx context.Context, ev Event) {
	ev.OccurredAt = time.Now().UTC().Format(time.RFC3339)
	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.logger.Warn("event publish: dial broker", zap.String("kind", ev.Kind), zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.logger.Warn("event publish: open channel", zap.String("kind", ev.Kind), zap.Error(err))
		return
	}
	defer func() { _ = ch.Close() }()

	// Durable so messages survive broker restarts; declare is idempotent.
	if _, err := ch.QueueDeclare(eventsQueueName, true, false, false, false, nil); err != nil {
		p.logger.Warn("event publish: declare queue", zap.String("kind", ev.Kind), zap.Error(err))
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("event publish: marshal", zap.String("kind", ev.Kind), zap.Error(err))
		return
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", eventsQueueName, false, false, pub); err != nil {
		p.logger.Warn("event publish: publish", zap.String("kind", ev.Kind), zap.Error(err))
	}
}

func holdEvent(kind string, h model.Hold) Event {
	return Event{
		Kind:       kind,
		SlotID:     h.SlotID,
		HoldID:     h.ID,
		OwnerToken: h.OwnerToken,
		Units:      h.Units,
		ExpiresAt:  h.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func bookingEvent(kind string, b model.Booking) Event {
	ev := Event{
		Kind:        kind,
		SlotID:      b.SlotID,
		BookingID:   b.ID,
		OwnerToken:  b.OwnerToken,
		Units:       b.UnitsReserved,
		AmountCents: b.AmountCents,
	}
	if b.PaymentRef != nil {
		ev.PaymentRef = *b.PaymentRef
	}
	return ev
}

// HoldCreated publishes a hold.created event.
func (p *Publisher) HoldCreated(ctx context.Context, h model.Hold) {
	p.publish(ctx, holdEvent(KindHoldCreated, h))
}

// HoldReleased publishes a hold.released event.
func (p *Publisher) HoldReleased(ctx context.Context, h model.Hold) {
	p.publish(ctx, holdEvent(KindHoldReleased, h))
}

// HoldExpired publishes a hold.expired event.
func (p *Publisher) HoldExpired(ctx context.Context, h model.Hold) {
	p.publish(ctx, holdEvent(KindHoldExpired, h))
}

// BookingConfirmed publishes a booking.confirmed event.
func (p *Publisher) BookingConfirmed(ctx context.Context, b model.Booking) {
	p.publish(ctx, bookingEvent(KindBookingConfirmed, b))
}

// BookingCancelled publishes a booking.cancelled event.
func (p *Publisher) BookingCancelled(ctx context.Context, b model.Booking) {
	p.publish(ctx, bookingEvent(KindBookingCancelled, b))
}

// WaitlistPromoted publishes a waitlist.promoted event carrying both
// the promoted entry and the hold opened for it.
func (p *Publisher) WaitlistPromoted(ctx context.Context, e model.WaitlistEntry, h model.Hold) {
	ev := holdEvent(KindWaitlistPromoted, h)
	ev.EntryID = e.ID
	p.publish(ctx, ev)
}
