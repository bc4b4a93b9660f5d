package httpgin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/prasetyo/tiketin/internal/domain"
	"github.com/prasetyo/tiketin/internal/midtrans"
	redisrepo "github.com/prasetyo/tiketin/internal/repository/redis"
	"github.com/prasetyo/tiketin/internal/service"
	"github.com/prasetyo/tiketin/internal/service/admin"
	"github.com/prasetyo/tiketin/internal/service/order"
	"github.com/prasetyo/tiketin/internal/service/query"
)

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public API
	r.GET("/events/:id", handleGetEvent(svcs))
	r.GET("/events/:id/availability", handleGetAvailability(svcs))
	r.GET("/orders/:id", handleGetOrder(svcs))

	r.POST("/checkout", handleCheckout(svcs, idem))
	r.POST("/payment/webhook", handleWebhook(svcs, logger))

	// Admin-API
	// TODO: add admin middleware
	adm := r.Group("/admin")
	{
		adm.POST("/events", handleCreateEvent(svcs))
		adm.PATCH("/events/:id", handleUpdateEvent(svcs))
		adm.POST("/users", handleCreateUser(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Get event
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  domain.Event
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id} [get]
func handleGetEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		e, err := svcs.Query.GetEvent(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, e, "public, max-age=60", true)
	}
}

// @Summary  Get remaining capacity
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  domain.EventAvailability
// @Router   /events/{id}/availability [get]
func handleGetAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		a, err := svcs.Query.Availability(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, a, "public, max-age=15", true)
	}
}

// @Summary  Get order with tickets and payments
// @Param    id  path  string  true  "Order ID"
// @Success  200 {object} domain.OrderWithTickets
// @Router   /orders/{id} [get]
func handleGetOrder(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("id")
		o, err := svcs.Query.GetOrder(c.Request.Context(), orderID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

// @Summary  Reserve tickets (idempotent)
// @Param    req body  CheckoutRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} CheckoutResponse
// @Failure  400 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse "event or user not found"
// @Failure  409 {object} ErrorResponse "insufficient capacity / idem in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Failure  502 {object} ErrorResponse "payment gateway error"
// @Router   /checkout [post]
func handleCheckout(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CheckoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		if req.Quantity <= 0 {
			req.Quantity = 1
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemCheckout(req.EventID, idemKey)

			if payload, ok, _ := idem.GetResult(
				c.Request.Context(),
				idemStorageKey,
			); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(
					http.StatusCreated,
					"application/json; charset=utf-8",
					[]byte(payload),
				)
				return
			}

			locked, err := idem.AcquireLock(
				c.Request.Context(),
				idemStorageKey,
				60*time.Second,
			)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(
					c.Request.Context(),
					idemStorageKey,
				); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(
						http.StatusCreated,
						"application/json; charset=utf-8",
						[]byte(payload),
					)
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(
					http.StatusConflict,
					ErrorResponse{Error: "idempotency key in progress"},
				)
				return
			}
		}

		rlKey := "ip:" + c.ClientIP()

		res, err := svcs.Order.CreateOrder(
			c.Request.Context(),
			req.EventID,
			req.UserID,
			req.Quantity,
			rlKey,
		)
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			if isRateLimitedErr(err) {
				c.Header("Retry-After", "60")
				c.JSON(
					http.StatusTooManyRequests,
					ErrorResponse{Error: err.Error()},
				)
				return
			}
			respondErr(c, err)
			return
		}

		resp := CheckoutResponse{
			OrderID:     res.OrderID,
			TicketCodes: res.TicketCodes,
			Free:        res.Free,
			SnapToken:   res.SnapToken,
			RedirectURL: res.RedirectURL,
		}

		if idemStorageKey != "" && idem != nil {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  Midtrans payment notification
// @Param    req body  midtrans.Notification true "payload"
// @Success  200 {object} WebhookResponse
// @Router   /payment/webhook [post]
//
// Always answers 200. The gateway's delivery guarantee depends on a
// success acknowledgment; internal failures go to the log, not to
// Midtrans.
func handleWebhook(svcs *service.Services, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var n midtrans.Notification
		if err := c.ShouldBindJSON(&n); err != nil {
			logger.Warn("webhook: malformed body", "error", err)
			c.JSON(http.StatusOK, WebhookResponse{Message: "Ignored"})
			return
		}

		ack, err := svcs.Reconcile.Process(c.Request.Context(), &n)
		if err != nil {
			logger.Error("webhook: reconciliation failed",
				"order_id", n.OrderID,
				"transaction_status", n.TransactionStatus,
				"error", err,
			)
		}

		c.JSON(http.StatusOK, WebhookResponse{Message: string(ack)})
	}
}

// @Summary  Create event
// @Param    req body  CreateEventRequest true "payload"
// @Success  201 {object} CreateEventResponse
// @Router   /admin/events [post]
func handleCreateEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		starts, err := parseRFC3339(req.StartsAt)
		if err != nil {
			badRequest(c, "invalid starts_at (RFC3339)")
			return
		}
		id, err := svcs.Admin.CreateEvent(c.Request.Context(), &domain.Event{
			Title:           req.Title,
			Description:     req.Description,
			Price:           req.Price,
			MaxParticipants: req.MaxParticipants,
			StartsAt:        starts,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, CreateEventResponse{EventID: id})
	}
}

// @Summary  Update event
// @Param    id  path  int  true  "Event ID"
// @Param    req body  UpdateEventRequest true "payload"
// @Success  200 {object} CreateEventResponse
// @Router   /admin/events/{id} [patch]
func handleUpdateEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req UpdateEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		starts, err := parseRFC3339(req.StartsAt)
		if err != nil {
			badRequest(c, "invalid starts_at (RFC3339)")
			return
		}
		if err := svcs.Admin.UpdateEvent(c.Request.Context(), &domain.Event{
			ID:              eventID,
			Title:           req.Title,
			Description:     req.Description,
			Price:           req.Price,
			MaxParticipants: req.MaxParticipants,
			Status:          domain.EventStatus(req.Status),
			StartsAt:        starts,
		}); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, CreateEventResponse{EventID: eventID})
	}
}

// @Summary  Create user
// @Param    req body  CreateUserRequest true "payload"
// @Success  201 {object} CreateUserResponse
// @Router   /admin/users [post]
func handleCreateUser(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		id, err := svcs.Admin.CreateUser(c.Request.Context(), &domain.User{
			FullName: req.FullName,
			Email:    req.Email,
			Phone:    req.Phone,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, CreateUserResponse{UserID: id})
	}
}

// --- Helpers ---

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func isRateLimitedErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "rate limited")
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var capErr *order.InsufficientCapacityError
	var gwErr *midtrans.GatewayError

	switch {
	// order service
	case errors.As(err, &capErr):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:     capErr.Error(),
			Available: &capErr.Available,
		})
		return
	case errors.As(err, &gwErr):
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "payment gateway error",
			Details: gwErr.Body,
		})
		return
	case errors.Is(err, order.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
		return
	case errors.Is(err, order.ErrUserNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	case errors.Is(err, order.ErrEventInactive):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "event is not selling tickets"})
		return
	case errors.Is(err, order.ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "quantity must be at least 1"})
		return
	case errors.Is(err, order.ErrQuantityTooLarge):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "quantity exceeds the per-order limit"})
		return
	// query service
	case errors.Is(err, query.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
		return
	case errors.Is(err, query.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "order not found"})
		return
	// admin service
	case errors.Is(err, admin.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found or capacity below consumed"})
		return
	case errors.Is(err, admin.ErrUserConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "user already exists"})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
