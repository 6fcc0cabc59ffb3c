package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/carebridge/carebridge/internal/agents"
)

// Tool names.
const (
	ToolListDoctors       = "list_doctors"
	ToolListFreeSlots     = "list_free_slots"
	ToolProposeBooking    = "propose_booking"
	ToolBookAppointment   = "book_appointment"
	ToolCancelAppointment = "cancel_appointment"
)

// ErrUnknownTool indicates an invoke for a tool this package does not provide.
var ErrUnknownTool = errors.New("unknown tool")

// Tools exposes the scheduling store as named tools. It implements
// agents.ToolInvoker; book_appointment is included here but must only be
// reached through the assistant's confirmed-resume path.
type Tools struct {
	store *Store
}

var _ agents.ToolInvoker = (*Tools)(nil)

// NewTools wraps a store.
func NewTools(store *Store) *Tools {
	return &Tools{store: store}
}

type slotsArgs struct {
	Doctor string `json:"doctor"`
}

type bookingArgs struct {
	Doctor  string `json:"doctor"`
	Time    string `json:"time"`
	Patient string `json:"patient,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type cancelArgs struct {
	AppointmentID string `json:"appointment_id"`
}

// Invoke implements agents.ToolInvoker.
func (t *Tools) Invoke(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	switch name {
	case ToolListDoctors:
		return t.listDoctors(ctx)
	case ToolListFreeSlots:
		return t.listFreeSlots(ctx, args)
	case ToolProposeBooking:
		return t.proposeBooking(ctx, args)
	case ToolBookAppointment:
		return t.bookAppointment(ctx, args)
	case ToolCancelAppointment:
		return t.cancelAppointment(ctx, args)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
}

func (t *Tools) listDoctors(ctx context.Context) (json.RawMessage, error) {
	doctors, err := t.store.Doctors(ctx)
	if err != nil {
		return nil, err
	}
	if doctors == nil {
		doctors = []Doctor{}
	}
	return json.Marshal(map[string]any{"doctors": doctors})
}

func (t *Tools) listFreeSlots(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var a slotsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("parse %s args: %w", ToolListFreeSlots, err)
	}

	slots, err := t.store.FreeSlots(ctx, a.Doctor)
	if err != nil {
		return nil, err
	}
	if slots == nil {
		slots = []string{}
	}
	return json.Marshal(map[string]any{"doctor": a.Doctor, "slots": slots})
}

// proposeBooking validates availability without writing anything. The
// returned payload is the proposal the caller must confirm.
func (t *Tools) proposeBooking(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var a bookingArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("parse %s args: %w", ToolProposeBooking, err)
	}

	if err := t.store.CheckAvailable(ctx, a.Doctor, a.Time); err != nil {
		if errors.Is(err, ErrSlotTaken) || errors.Is(err, ErrUnknownSlot) || errors.Is(err, ErrUnknownDoctor) {
			return json.Marshal(map[string]any{
				"status": "unavailable",
				"doctor": a.Doctor,
				"time":   a.Time,
				"reason": err.Error(),
			})
		}
		return nil, err
	}

	return json.Marshal(a)
}

func (t *Tools) bookAppointment(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var a bookingArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("parse %s args: %w", ToolBookAppointment, err)
	}

	appt, err := t.store.Book(ctx, a.Doctor, a.Time, a.Patient, a.Reason)
	if err != nil {
		// A lost race on the slot is a structured outcome, not a failure.
		if errors.Is(err, ErrSlotTaken) {
			return json.Marshal(map[string]any{
				"status": "booking_conflict",
				"doctor": a.Doctor,
				"time":   a.Time,
			})
		}
		return nil, err
	}

	return json.Marshal(map[string]any{
		"status":      "confirmed",
		"appointment": appt,
	})
}

func (t *Tools) cancelAppointment(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var a cancelArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("parse %s args: %w", ToolCancelAppointment, err)
	}

	if err := t.store.Cancel(ctx, a.AppointmentID); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return json.Marshal(map[string]any{
				"status":         "not_found",
				"appointment_id": a.AppointmentID,
			})
		}
		return nil, err
	}

	return json.Marshal(map[string]any{
		"status":         "cancelled",
		"appointment_id": a.AppointmentID,
	})
}
