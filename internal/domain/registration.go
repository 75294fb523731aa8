package domain

import "time"

type RegistrationID string

type RegistrationStatus string

const (
	RegistrationRegistered RegistrationStatus = "registered"
	RegistrationCancelled  RegistrationStatus = "cancelled"
	RegistrationAttended   RegistrationStatus = "attended"
	RegistrationNoShow     RegistrationStatus = "noshow"
)

// Registration is a user's claim on a slot. The (TimeSlotID, UserID) pair is unique
// across the whole status history.
type Registration struct {
	ID           RegistrationID     `json:"id"`
	TimeSlotID   SlotID             `json:"timeSlotId"`
	UserID       UserID             `json:"userId"`
	Status       RegistrationStatus `json:"status"`
	RegisteredAt time.Time          `json:"registeredAt"`
	CancelledAt  *time.Time         `json:"cancelledAt,omitempty"`
}

// Holds reports whether the registration still entitles the user to join the slot's session.
func (r Registration) Holds() bool {
	return r.Status == RegistrationRegistered || r.Status == RegistrationAttended
}
