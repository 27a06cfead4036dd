package grpc

import (
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"nailsdash/backend/internal/domain"
)

func toStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}

func appointmentDoc(a domain.Appointment) map[string]any {
	var technicianID any
	if a.TechnicianID != nil {
		technicianID = a.TechnicianID.String()
	}
	return map[string]any{
		"id":               a.ID.String(),
		"customer_id":      a.CustomerID,
		"store_id":         a.StoreID.String(),
		"service_id":       a.ServiceID.String(),
		"technician_id":    technicianID,
		"appointment_date": a.Date.String(),
		"appointment_time": a.Time.String(),
		"notes":            a.Notes,
		"status":           string(a.Status),
		"created_at":       a.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":       a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func appointmentList(appts []domain.Appointment) map[string]any {
	out := make([]any, 0, len(appts))
	for _, a := range appts {
		out = append(out, appointmentDoc(a))
	}
	return map[string]any{"appointments": out}
}

func conflictDoc(res domain.ConflictResult) map[string]any {
	doc := map[string]any{
		"has_conflict": res.HasConflict,
		"dimension":    string(res.Dimension),
		"message":      res.Message,
	}
	if res.Window != nil {
		doc["window"] = map[string]any{
			"start": res.Window.Start.Format("15:04"),
			"end":   res.Window.End.Format("15:04"),
		}
	}
	return doc
}

func slotsDoc(slots []domain.Slot) map[string]any {
	out := make([]any, 0, len(slots))
	for _, s := range slots {
		out = append(out, map[string]any{
			"start":            s.Start.String(),
			"end":              s.End.String(),
			"duration_minutes": s.DurationMinutes,
		})
	}
	return map[string]any{"slots": out}
}

func countsDoc(c domain.StatusCounts) map[string]any {
	return map[string]any{
		"total":     c.Total,
		"pending":   c.Pending,
		"confirmed": c.Confirmed,
		"completed": c.Completed,
	}
}

func statsDoc(s domain.StoreStats) map[string]any {
	return map[string]any{
		"today":      countsDoc(s.Today),
		"this_week":  countsDoc(s.ThisWeek),
		"this_month": countsDoc(s.ThisMonth),
	}
}
