// Package events publishes clinical record lifecycle events for downstream
// consumers. Publishing is best-effort: callers log failures and carry on.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	PatientRegistered    Type = "patient.registered"
	PatientUpdated       Type = "patient.updated"
	PatientDeleted       Type = "patient.deleted"
	VisitAdded           Type = "visit.added"
	VisitUpdated         Type = "visit.updated"
	VisitDeleted         Type = "visit.deleted"
	LabReportAttached    Type = "lab_report.attached"
	LabReportReplaced    Type = "lab_report.replaced"
	LabReportDeleted     Type = "lab_report.deleted"
	PrescriptionAttached Type = "prescription.attached"
)

// Event describes one change to a patient's records.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	PatientID  string    `json:"patientId,omitempty"`
	EntityID   string    `json:"entityId"`
	Actor      string    `json:"actor,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// New returns an event of type t about entityID, stamped with a fresh id and
// the current time.
func New(t Type, patientID, entityID, actor string) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       t,
		PatientID:  patientID,
		EntityID:   entityID,
		Actor:      actor,
		OccurredAt: time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }
