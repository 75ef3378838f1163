package outbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/md-rashed-zaman/apptzone/libs/kafkax"
)

func TestScheduleUpdatedEvent(t *testing.T) {
	evt, err := ScheduleUpdatedEvent("biz-1", "store_hours")
	if err != nil {
		t.Fatalf("ScheduleUpdatedEvent: %v", err)
	}
	if evt.EventType != ScheduleUpdated || evt.AggregateID != "biz-1" || evt.AggregateType != "business" {
		t.Fatalf("unexpected envelope: %+v", evt)
	}
	var got ScheduleChange
	if err := json.Unmarshal(evt.Payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.BusinessID != "biz-1" || got.Reason != "store_hours" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestNewEvent_RequiresIdentity(t *testing.T) {
	if _, err := NewEvent("appointment", "", AppointmentBooked, nil); err == nil {
		t.Fatalf("expected error for empty aggregate id")
	}
	if _, err := NewEvent("appointment", "a-1", AppointmentBooked, func() {}); err == nil {
		t.Fatalf("expected marshal error")
	}
}

func TestMessage(t *testing.T) {
	msg := Message(context.Background(), Record{
		EventID:     "evt-1",
		AggregateID: "appt-1",
		EventType:   AppointmentBooked,
		Payload:     []byte(`{}`),
	})
	if msg.Topic != AppointmentBooked || string(msg.Key) != "appt-1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	meta := kafkax.ExtractEventMeta(msg)
	if meta.EventID != "evt-1" || meta.EventType != AppointmentBooked {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}
