package httpgin

import "time"

type CheckoutRequest struct {
	EventID  int64 `json:"event_id" binding:"required"`
	UserID   int64 `json:"user_id" binding:"required"`
	Quantity int   `json:"quantity" binding:"omitempty,min=1,max=10"`
}

type CheckoutResponse struct {
	OrderID     string   `json:"order_id"`
	TicketCodes []string `json:"ticket_codes"`
	Free        bool     `json:"free"`
	SnapToken   string   `json:"snap_token,omitempty"`
	RedirectURL string   `json:"redirect_url,omitempty"`
}

type WebhookResponse struct {
	Message string `json:"message"`
}

type CreateEventRequest struct {
	Title           string `json:"title" binding:"required"`
	Description     string `json:"description"`
	Price           int64  `json:"price" binding:"min=0"`
	MaxParticipants int    `json:"max_participants" binding:"required,gt=0"`
	StartsAt        string `json:"starts_at" binding:"required"`
}

type UpdateEventRequest struct {
	Title           string `json:"title" binding:"required"`
	Description     string `json:"description"`
	Price           int64  `json:"price" binding:"min=0"`
	MaxParticipants int    `json:"max_participants" binding:"required,gt=0"`
	Status          string `json:"status" binding:"required,oneof=active inactive completed"`
	StartsAt        string `json:"starts_at" binding:"required"`
}

type CreateUserRequest struct {
	FullName string `json:"full_name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Phone    string `json:"phone"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Available *int   `json:"available,omitempty"`
	Details   string `json:"details,omitempty"`
}

type CreateEventResponse struct {
	EventID int64 `json:"event_id"`
}

type CreateUserResponse struct {
	UserID int64 `json:"user_id"`
}

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
