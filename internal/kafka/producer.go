package kafka

import (
	"context"
	"encoding/json"
	"time"

	"ms-reservation/internal/models"

	"github.com/segmentio/kafka-go"
)

// Producer streams reservation lifecycle events for downstream consumers
// (notifications, analytics). Events are best-effort: the request path
// never fails because a publish did.
type Producer struct {
	ReservationWriter *kafka.Writer
	OrderWriter       *kafka.Writer
}

func NewProducer(brokers []string, reservationTopic, orderTopic string) *Producer {
	return &Producer{
		ReservationWriter: kafka.NewWriter(kafka.WriterConfig{
			Brokers: brokers,
			Topic:   reservationTopic,
		}),
		OrderWriter: kafka.NewWriter(kafka.WriterConfig{
			Brokers: brokers,
			Topic:   orderTopic,
		}),
	}
}

type reservationEvent struct {
	Type        string    `json:"type"`
	Token       string    `json:"token"`
	ResourceID  string    `json:"resource_id"`
	RequesterID string    `json:"requester_id"`
	Quantity    int       `json:"quantity"`
	Status      string    `json:"status"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type orderEvent struct {
	Type             string `json:"type"`
	OrderID          string `json:"order_id"`
	ReservationToken string `json:"reservation_token"`
	ResourceID       string `json:"resource_id"`
	Quantity         int    `json:"quantity"`
}

func (p *Producer) publishReservation(eventType string, r models.Reservation) error {
	msgBytes, err := json.Marshal(reservationEvent{
		Type:        eventType,
		Token:       r.Token,
		ResourceID:  r.ResourceID,
		RequesterID: r.RequesterID,
		Quantity:    r.Quantity,
		Status:      r.Status,
		ExpiresAt:   r.ExpiresAt,
	})
	if err != nil {
		return err
	}

	return p.ReservationWriter.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(r.Token),
			Value: msgBytes,
		},
	)
}

func (p *Producer) PublishReservationCreated(r models.Reservation) error {
	return p.publishReservation(EventReservationCreated, r)
}

func (p *Producer) PublishReservationCancelled(r models.Reservation) error {
	return p.publishReservation(EventReservationCancelled, r)
}

func (p *Producer) PublishReservationExpired(r models.Reservation) error {
	return p.publishReservation(EventReservationExpired, r)
}

func (p *Producer) PublishOrderCommitted(order models.CommittedOrder) error {
	msgBytes, err := json.Marshal(orderEvent{
		Type:             EventOrderCommitted,
		OrderID:          order.OrderID,
		ReservationToken: order.ReservationToken,
		ResourceID:       order.ResourceID,
		Quantity:         order.Quantity,
	})
	if err != nil {
		return err
	}

	return p.OrderWriter.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(order.OrderID),
			Value: msgBytes,
		},
	)
}

// Close shuts both writers down.
func (p *Producer) Close() error {
	if err := p.ReservationWriter.Close(); err != nil {
		return err
	}
	return p.OrderWriter.Close()
}
