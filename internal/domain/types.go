package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventStatus string

const (
	EventActive    EventStatus = "active"
	EventInactive  EventStatus = "inactive"
	EventCompleted EventStatus = "completed"
)

type TicketStatus string

const (
	TicketPending TicketStatus = "pending"
	TicketActive  TicketStatus = "active"
	TicketRevoked TicketStatus = "revoked"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

// Event is a scheduled seminar with a bounded number of seats.
// CurrentParticipants counts seats already granted and only grows on a
// confirmed payment or a free-event grant, never on reservation.
type Event struct {
	ID                  int64
	Title               string
	Description         string
	Price               int64 // smallest currency unit; 0 means free
	MaxParticipants     int
	CurrentParticipants int
	Status              EventStatus
	StartsAt            time.Time
}

func (e *Event) Free() bool {
	return e.Price == 0
}

type User struct {
	ID       int64
	FullName string
	Email    string
	Phone    string
}

type Ticket struct {
	ID      uuid.UUID
	EventID int64
	UserID  int64
	Code    string
	Status  TicketStatus
	Created time.Time
}

// Payment is the per-ticket record of one purchase attempt. Every
// ticket bought in the same order shares one OrderID. Status is
// monotonic: once success or failed it never changes again.
type Payment struct {
	ID       uuid.UUID
	TicketID uuid.UUID
	EventID  int64
	UserID   int64
	OrderID  string
	Amount   int64
	Method   string
	Status   PaymentStatus
	PaidAt   *time.Time
	Created  time.Time
}

// EventAvailability is the capacity picture for one event. Available is
// capacity minus every ticket currently pending or active, so seats
// held by unsettled orders cannot be sold twice.
type EventAvailability struct {
	Capacity  int
	Consumed  int
	Held      int
	Available int
}

type OrderWithTickets struct {
	OrderID  string
	EventID  int64
	UserID   int64
	Tickets  []Ticket
	Payments []Payment
}
