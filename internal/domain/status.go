package domain

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ActiveStatuses occupy technician and customer time.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Event string

const (
	EventConfirm  Event = "confirm"
	EventComplete Event = "complete"
	EventCancel   Event = "cancel"
)

func (e Event) Valid() bool {
	switch e {
	case EventConfirm, EventComplete, EventCancel:
		return true
	}
	return false
}

// RequiresStoreAdmin reports whether only store staff may trigger e.
func (e Event) RequiresStoreAdmin() bool {
	return e == EventConfirm || e == EventComplete
}

// Next applies ev to s. Terminal states never change.
func (s Status) Next(ev Event) (Status, error) {
	switch s {
	case StatusCancelled:
		return s, &TransitionError{From: s, Event: ev, Reason: "cannot act on a cancelled appointment"}
	case StatusCompleted:
		return s, &TransitionError{From: s, Event: ev, Reason: "cannot modify a completed appointment"}
	}

	switch ev {
	case EventConfirm:
		if s == StatusPending {
			return StatusConfirmed, nil
		}
		return s, &TransitionError{From: s, Event: ev, Reason: "appointment is already confirmed"}
	case EventComplete:
		if s == StatusPending || s == StatusConfirmed {
			return StatusCompleted, nil
		}
	case EventCancel:
		if s == StatusPending || s == StatusConfirmed {
			return StatusCancelled, nil
		}
	}
	return s, &TransitionError{From: s, Event: ev, Reason: "unsupported transition"}
}
