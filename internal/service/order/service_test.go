package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasetyo/tiketin/internal/domain"
	"github.com/prasetyo/tiketin/internal/midtrans"
	"github.com/prasetyo/tiketin/internal/repository"
	postgresrepo "github.com/prasetyo/tiketin/internal/repository/postgres"
)

// fakeOrderStore mimics the serializable reservation transaction: one
// mutex guards the capacity check and the writes, exactly as the row
// lock does in Postgres.
type fakeOrderStore struct {
	mu sync.Mutex

	event    domain.Event
	pending  int
	active   int
	consumed int

	conflictsLeft int // fail this many CreateOrder calls with ErrConflict
	attempts      int
	seenCodes     [][]string
}

func (f *fakeOrderStore) CreateOrder(_ context.Context, p postgresrepo.CreateOrderParams) (*postgresrepo.CreateOrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts++
	f.seenCodes = append(f.seenCodes, p.Codes)

	if p.EventID != f.event.ID {
		return nil, repository.ErrNotFound
	}

	if f.event.Status != domain.EventActive {
		return nil, repository.ErrEventInactive
	}

	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		return nil, repository.ErrConflict
	}

	available := f.event.MaxParticipants - f.pending - f.active
	if len(p.Codes) > available {
		if available < 0 {
			available = 0
		}
		return nil, &repository.InsufficientCapacityError{Available: available}
	}

	tickets := make([]domain.Ticket, len(p.Codes))
	for i, code := range p.Codes {
		tickets[i] = domain.Ticket{
			EventID: p.EventID,
			UserID:  p.UserID,
			Code:    code,
			Status:  domain.TicketPending,
		}
	}

	ev := f.event
	res := &postgresrepo.CreateOrderResult{Event: &ev, Tickets: tickets}

	if f.event.Free() {
		f.active += len(tickets)
		f.consumed += len(tickets)
		res.Activated = len(tickets)
		for i := range res.Tickets {
			res.Tickets[i].Status = domain.TicketActive
		}
	} else {
		f.pending += len(tickets)
	}

	return res, nil
}

func (f *fakeOrderStore) ExpirePending(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

type fakeUserStore struct {
	users map[int64]*domain.User
}

func (f *fakeUserStore) Get(_ context.Context, id int64) (*domain.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

type fakeGateway struct {
	mu       sync.Mutex
	requests []*midtrans.SnapRequest
	resp     *midtrans.SnapResponse
	err      error
}

func (f *fakeGateway) CreateTransaction(_ context.Context, req *midtrans.SnapRequest) (*midtrans.SnapResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeGateway) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newFixture(price int64, capacity, taken int) (*fakeOrderStore, *fakeUserStore, *fakeGateway, *Service) {
	store := &fakeOrderStore{
		event: domain.Event{
			ID:              7,
			Title:           "Seminar Nasional Teknologi Informasi dan Komunikasi Indonesia",
			Price:           price,
			MaxParticipants: capacity,
			Status:          domain.EventActive,
		},
		active:   taken,
		consumed: taken,
	}

	users := &fakeUserStore{users: map[int64]*domain.User{
		42: {ID: 42, FullName: "Budi Santoso", Email: "budi@example.com", Phone: "+628123456789"},
	}}

	gateway := &fakeGateway{
		resp: &midtrans.SnapResponse{Token: "snap-token-123", RedirectURL: "https://example.test/pay"},
	}

	svc := New(store, users, gateway, nil, nil, nil, nil, Config{})

	return store, users, gateway, svc
}

func TestCreateOrder_FreeEvent(t *testing.T) {
	store, _, gateway, svc := newFixture(0, 10, 0)

	res, err := svc.CreateOrder(context.Background(), 7, 42, 3, "")
	require.NoError(t, err)

	assert.True(t, res.Free)
	assert.Empty(t, res.SnapToken)
	assert.Len(t, res.TicketCodes, 3)
	assert.NotEmpty(t, res.OrderID)

	// Granted immediately, no gateway session.
	assert.Equal(t, 0, gateway.calls())
	assert.Equal(t, 3, store.consumed)
	assert.Equal(t, 3, store.active)
	assert.Equal(t, 0, store.pending)
}

func TestCreateOrder_PaidEvent(t *testing.T) {
	store, _, gateway, svc := newFixture(150000, 10, 0)

	res, err := svc.CreateOrder(context.Background(), 7, 42, 2, "")
	require.NoError(t, err)

	assert.False(t, res.Free)
	assert.Equal(t, "snap-token-123", res.SnapToken)
	assert.Len(t, res.TicketCodes, 2)

	// Tickets stay pending until reconciliation; inventory untouched.
	assert.Equal(t, 0, store.consumed)
	assert.Equal(t, 2, store.pending)

	require.Equal(t, 1, gateway.calls())
	req := gateway.requests[0]
	assert.Equal(t, res.OrderID, req.TransactionDetails.OrderID)
	assert.Equal(t, int64(300000), req.TransactionDetails.GrossAmount)
	assert.Equal(t, "budi@example.com", req.CustomerDetails.Email)
	require.Len(t, req.ItemDetails, 1)
	assert.Equal(t, int64(150000), req.ItemDetails[0].Price)
	assert.Equal(t, 2, req.ItemDetails[0].Quantity)
	assert.LessOrEqual(t, len([]rune(req.ItemDetails[0].Name)), 50)
}

func TestCreateOrder_InsufficientCapacity(t *testing.T) {
	store, _, gateway, svc := newFixture(150000, 10, 8)

	_, err := svc.CreateOrder(context.Background(), 7, 42, 3, "")
	require.Error(t, err)

	var capErr *InsufficientCapacityError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, 2, capErr.Available)

	// No mutation, no gateway call.
	assert.Equal(t, 8, store.active)
	assert.Equal(t, 0, store.pending)
	assert.Equal(t, 0, gateway.calls())
}

func TestCreateOrder_UserNotFound(t *testing.T) {
	store, _, _, svc := newFixture(150000, 10, 0)

	_, err := svc.CreateOrder(context.Background(), 7, 99, 1, "")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Equal(t, 0, store.attempts)
}

func TestCreateOrder_EventNotFound(t *testing.T) {
	_, _, _, svc := newFixture(150000, 10, 0)

	_, err := svc.CreateOrder(context.Background(), 8, 42, 1, "")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestCreateOrder_EventInactive(t *testing.T) {
	store, _, _, svc := newFixture(150000, 10, 0)
	store.event.Status = domain.EventInactive

	_, err := svc.CreateOrder(context.Background(), 7, 42, 1, "")
	assert.ErrorIs(t, err, ErrEventInactive)
}

func TestCreateOrder_InvalidQuantity(t *testing.T) {
	_, _, _, svc := newFixture(150000, 10, 0)

	_, err := svc.CreateOrder(context.Background(), 7, 42, 0, "")
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

// An absurd quantity must be rejected up front: no codes generated, no
// store round trip.
func TestCreateOrder_QuantityAboveLimit(t *testing.T) {
	store, _, gateway, svc := newFixture(150000, 10, 0)

	_, err := svc.CreateOrder(context.Background(), 7, 42, 500_000, "")
	assert.ErrorIs(t, err, ErrQuantityTooLarge)

	assert.Equal(t, 0, store.attempts)
	assert.Empty(t, store.seenCodes)
	assert.Equal(t, 0, gateway.calls())
}

func TestCreateOrder_GatewayError(t *testing.T) {
	store, _, gateway, svc := newFixture(150000, 10, 0)
	gateway.err = fmt.Errorf("midtrans.Client.CreateTransaction: %w", &midtrans.GatewayError{
		StatusCode: 503,
		Body:       `{"error_messages":["service unavailable"]}`,
	})

	_, err := svc.CreateOrder(context.Background(), 7, 42, 2, "")
	require.Error(t, err)

	var gwErr *midtrans.GatewayError
	assert.True(t, errors.As(err, &gwErr))

	// Rows were created before the gateway call and stay pending for
	// the expiry sweep.
	assert.Equal(t, 2, store.pending)
	assert.Equal(t, 0, store.consumed)
}

func TestCreateOrder_RetriesOnCodeConflict(t *testing.T) {
	store, _, _, svc := newFixture(150000, 10, 0)
	store.conflictsLeft = 2

	res, err := svc.CreateOrder(context.Background(), 7, 42, 2, "")
	require.NoError(t, err)
	assert.Len(t, res.TicketCodes, 2)
	assert.Equal(t, 3, store.attempts)

	// Fresh codes on every attempt.
	require.Len(t, store.seenCodes, 3)
	assert.NotEqual(t, store.seenCodes[0], store.seenCodes[1])
	assert.NotEqual(t, store.seenCodes[1], store.seenCodes[2])
}

func TestCreateOrder_ConflictExhausted(t *testing.T) {
	store, _, _, svc := newFixture(150000, 10, 0)
	store.conflictsLeft = maxCreateAttempts

	_, err := svc.CreateOrder(context.Background(), 7, 42, 1, "")
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.Equal(t, maxCreateAttempts, store.attempts)
}

// Capacity 10 with 9 seats taken, one buyer wants 1 and another wants
// 2 at the same instant: exactly one reservation may win, and the
// loser must learn that a single seat is left.
func TestCreateOrder_ConcurrentLastSeats(t *testing.T) {
	store, _, _, svc := newFixture(0, 10, 9)

	type outcome struct {
		res *Result
		err error
	}

	results := make(chan outcome, 2)
	var start sync.WaitGroup
	start.Add(1)

	for _, qty := range []int{1, 2} {
		go func(qty int) {
			start.Wait()
			res, err := svc.CreateOrder(context.Background(), 7, 42, qty, "")
			results <- outcome{res, err}
		}(qty)
	}
	start.Done()

	var wins, losses int
	for i := 0; i < 2; i++ {
		o := <-results
		if o.err == nil {
			wins++
			continue
		}
		losses++
		var capErr *InsufficientCapacityError
		require.True(t, errors.As(o.err, &capErr))
		assert.LessOrEqual(t, capErr.Available, 1)
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)
	assert.LessOrEqual(t, store.active+store.pending, store.event.MaxParticipants)
}
