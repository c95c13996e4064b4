package domain

import (
	"errors"
	"strings"
)

// ErrSectionNotFound signals that no watched section exists for a given
// section identifier.
var ErrSectionNotFound = errors.New("watched section not found")

// Status is the enrollment status of a single section as reported by the
// provider. It is a closed set; anything else maps to StatusClosed.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusWaitlisted Status = "WAITLISTED"
	StatusClosed     Status = "CLOSED"
)

// ParseStatus maps a raw provider status string onto the known set.
// Unknown values fall back to CLOSED so a schema drift on the provider side
// can never produce a phantom "seat available" signal.
func ParseStatus(raw string) Status {
	switch Status(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusOpen:
		return StatusOpen
	case StatusWaitlisted:
		return StatusWaitlisted
	default:
		return StatusClosed
	}
}

// AlertAction is the outcome of a reconciliation decision. Derived, never
// persisted.
type AlertAction int

const (
	ActionNone AlertAction = iota
	ActionAlertOpen
	ActionAlertWaitlisted
)

func (a AlertAction) String() string {
	switch a {
	case ActionAlertOpen:
		return "alert-open"
	case ActionAlertWaitlisted:
		return "alert-waitlisted"
	default:
		return "none"
	}
}

// SectionObservation is one freshly fetched status snapshot for one section.
// It has no identity beyond its field tuple and is regenerated every poll.
type SectionObservation struct {
	Subject       string
	CatalogNumber string
	SectionID     string
	Status        Status
	CourseID      string
}

// CourseLabel is the human-readable "SUBJECT CATALOG" name, e.g.
// "COMP SCI 577".
func (o SectionObservation) CourseLabel() string {
	return strings.TrimSpace(o.Subject + " " + o.CatalogNumber)
}

// WatchedSection is a persisted monitoring record for one section.
// SectionID is unique across all watched sections.
type WatchedSection struct {
	SectionID   string
	CourseID    string
	DisplayName string
	Enabled     bool

	// LastStatus is nil until the section has been observed at least once.
	LastStatus *Status
}
