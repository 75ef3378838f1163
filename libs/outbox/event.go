// Package outbox stores domain events in the same transaction as the state change that
// produced them and relays them to Kafka afterwards.
package outbox

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event types double as Kafka topic names.
const (
	AppointmentBooked    = "booking.appointment.booked.v1"
	AppointmentCancelled = "booking.appointment.cancelled.v1"
	ScheduleUpdated      = "business.schedule.updated.v1"
)

// Event is the domain event envelope written to the outbox table.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// NewEvent marshals payload as JSON into an envelope.
func NewEvent(aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	if strings.TrimSpace(aggregateID) == "" || strings.TrimSpace(eventType) == "" {
		return Event{}, fmt.Errorf("outbox: aggregate id and event type required")
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("outbox: marshal %s payload: %w", eventType, err)
	}
	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       b,
	}, nil
}

// ScheduleChange is the payload of ScheduleUpdated. Consumers drop cached schedules for
// BusinessID; Reason is informational.
type ScheduleChange struct {
	BusinessID string `json:"business_id"`
	Reason     string `json:"reason"`
}

func ScheduleUpdatedEvent(businessID, reason string) (Event, error) {
	return NewEvent("business", businessID, ScheduleUpdated, ScheduleChange{BusinessID: businessID, Reason: reason})
}
