package orders

type Status string

const (
	StatusPending          Status = "pending"
	StatusConfirmed        Status = "confirmed"
	StatusMeetingScheduled Status = "meeting_scheduled"
	StatusReadyForPickup   Status = "ready_for_pickup"
	StatusCompleted        Status = "completed"
	StatusCancelled        Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:          {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:        {StatusMeetingScheduled: true, StatusCancelled: true},
	StatusMeetingScheduled: {StatusReadyForPickup: true, StatusCancelled: true},
	StatusReadyForPickup:   {StatusCompleted: true},
	StatusCompleted:        {},
	StatusCancelled:        {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// OTPEligible is the single status from which a verification code may be issued.
func (s Status) OTPEligible() bool {
	return s == StatusReadyForPickup
}

// sellerDriven reports whether only the seller may request the move into s.
func sellerDriven(s Status) bool {
	switch s {
	case StatusConfirmed, StatusMeetingScheduled, StatusReadyForPickup:
		return true
	}
	return false
}

// ActiveStatuses are the non-terminal states listed as "active" to both parties.
var ActiveStatuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusMeetingScheduled,
	StatusReadyForPickup,
}
