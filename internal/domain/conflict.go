package domain

import (
	"fmt"

	"github.com/google/uuid"
)

type ConflictDimension string

const (
	DimensionNone           ConflictDimension = "none"
	DimensionTechnician     ConflictDimension = "technician"
	DimensionCustomer       ConflictDimension = "customer"
	DimensionInvalidService ConflictDimension = "invalid_service"
)

type ConflictResult struct {
	HasConflict bool
	Dimension   ConflictDimension
	Message     string
	// Window is the occupied range that caused the conflict, if any.
	Window *TimeRange
}

func NoConflict() ConflictResult {
	return ConflictResult{Dimension: DimensionNone, Message: "no conflict"}
}

func InvalidServiceResult() ConflictResult {
	return ConflictResult{HasConflict: true, Dimension: DimensionInvalidService, Message: "service not found"}
}

// Err converts a result into the error a write path should return.
func (r ConflictResult) Err(serviceID uuid.UUID) error {
	if !r.HasConflict {
		return nil
	}
	if r.Dimension == DimensionInvalidService {
		return &InvalidServiceError{ServiceID: serviceID.String()}
	}
	err := &ConflictError{Dimension: r.Dimension, Message: r.Message}
	if r.Window != nil {
		err.Window = *r.Window
	}
	return err
}

// ConflictCandidate describes the slot a caller wants to occupy.
type ConflictCandidate struct {
	Range        TimeRange
	TechnicianID *uuid.UUID
	CustomerID   string
	// ExcludeID skips the appointment being rescheduled.
	ExcludeID uuid.UUID
}

// DetectConflict scans existing appointments for the first overlap with the candidate.
// Technician overlaps are reported before customer overlaps; only one dimension is returned.
func DetectConflict(c ConflictCandidate, existing []BookedAppointment) ConflictResult {
	if c.TechnicianID != nil {
		for _, b := range existing {
			if !occupies(b, c.ExcludeID) || !b.Appointment.HasTechnician(*c.TechnicianID) {
				continue
			}
			if w := b.Range(); w.Overlaps(c.Range) {
				return ConflictResult{
					HasConflict: true,
					Dimension:   DimensionTechnician,
					Message:     fmt.Sprintf("the technician is already booked from %s to %s", w.Start.Format("15:04"), w.End.Format("15:04")),
					Window:      &w,
				}
			}
		}
	}

	if c.CustomerID != "" {
		for _, b := range existing {
			if !occupies(b, c.ExcludeID) || b.Appointment.CustomerID != c.CustomerID {
				continue
			}
			if w := b.Range(); w.Overlaps(c.Range) {
				return ConflictResult{
					HasConflict: true,
					Dimension:   DimensionCustomer,
					Message:     fmt.Sprintf("you already have an appointment from %s to %s", w.Start.Format("15:04"), w.End.Format("15:04")),
					Window:      &w,
				}
			}
		}
	}

	return NoConflict()
}

func occupies(b BookedAppointment, excludeID uuid.UUID) bool {
	if excludeID != uuid.Nil && b.Appointment.ID == excludeID {
		return false
	}
	return b.Appointment.Status.Active()
}
