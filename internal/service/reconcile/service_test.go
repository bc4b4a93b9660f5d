package reconcile

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasetyo/tiketin/internal/domain"
	"github.com/prasetyo/tiketin/internal/midtrans"
	postgresrepo "github.com/prasetyo/tiketin/internal/repository/postgres"
)

const testServerKey = "SB-Mid-server-test-key"

func sign(orderID, statusCode, grossAmount string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + testServerKey))
	return hex.EncodeToString(sum[:])
}

func notification(orderID, status string) *midtrans.Notification {
	return &midtrans.Notification{
		OrderID:           orderID,
		StatusCode:        "200",
		GrossAmount:       "300000.00",
		SignatureKey:      sign(orderID, "200", "300000.00"),
		TransactionStatus: status,
		PaymentType:       "qris",
		TransactionID:     "9aed5972-5b6a-401e-894b-a32c91ed1a3a",
	}
}

// fakeStore models the conditional pending->final transition: the
// first apply moves every pending payment, every later apply of either
// kind moves none.
type fakeStore struct {
	orders map[string]int // order id -> pending payment count

	settled map[string]bool
	failed  map[string]bool

	lookups   int
	successes int
	failures  int

	lookupErr error
	applyErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:  map[string]int{},
		settled: map[string]bool{},
		failed:  map[string]bool{},
	}
}

func (f *fakeStore) PaymentsByOrder(_ context.Context, orderID string) ([]domain.Payment, error) {
	f.lookups++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}

	n, ok := f.orders[orderID]
	if !ok {
		return nil, nil
	}

	payments := make([]domain.Payment, n)
	for i := range payments {
		payments[i] = domain.Payment{OrderID: orderID, Status: domain.PaymentPending}
	}
	return payments, nil
}

func (f *fakeStore) apply(orderID string, done map[string]bool) (*postgresrepo.ApplyResult, error) {
	if f.applyErr != nil {
		return nil, f.applyErr
	}

	res := &postgresrepo.ApplyResult{EventID: 7}
	if !f.settled[orderID] && !f.failed[orderID] {
		res.Transitioned = f.orders[orderID]
		done[orderID] = true
	}
	return res, nil
}

func (f *fakeStore) ApplySuccess(_ context.Context, orderID string) (*postgresrepo.ApplyResult, error) {
	f.successes++
	return f.apply(orderID, f.settled)
}

func (f *fakeStore) ApplyFailure(_ context.Context, orderID string) (*postgresrepo.ApplyResult, error) {
	f.failures++
	return f.apply(orderID, f.failed)
}

func newService(store *fakeStore) *Service {
	return New(store, midtrans.NewVerifier(testServerKey), nil, nil, nil)
}

func TestProcess_Probe(t *testing.T) {
	store := newFakeStore()
	svc := newService(store)

	ack, err := svc.Process(context.Background(), &midtrans.Notification{})
	require.NoError(t, err)
	assert.Equal(t, AckTest, ack)
	assert.Equal(t, 0, store.lookups)
}

func TestProcess_InvalidSignature(t *testing.T) {
	store := newFakeStore()
	store.orders["ORDER-1756700000000-A1B2C3D4"] = 2
	svc := newService(store)

	n := notification("ORDER-1756700000000-A1B2C3D4", "settlement")
	n.SignatureKey = "forged"

	ack, err := svc.Process(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, AckIgnored, ack)

	// Nothing touched.
	assert.Equal(t, 0, store.lookups)
	assert.Equal(t, 0, store.successes)
	assert.Equal(t, 0, store.failures)
}

func TestProcess_UnknownOrder(t *testing.T) {
	store := newFakeStore()
	svc := newService(store)

	ack, err := svc.Process(context.Background(), notification("ORDER-1756700000000-FFFFFFFF", "settlement"))
	require.NoError(t, err)
	assert.Equal(t, AckUnknown, ack)
	assert.Equal(t, 0, store.successes)
}

func TestProcess_Settlement(t *testing.T) {
	store := newFakeStore()
	store.orders["ORDER-1756700000000-A1B2C3D4"] = 2
	svc := newService(store)

	ack, err := svc.Process(context.Background(), notification("ORDER-1756700000000-A1B2C3D4", "settlement"))
	require.NoError(t, err)
	assert.Equal(t, AckOK, ack)
	assert.Equal(t, 1, store.successes)
	assert.True(t, store.settled["ORDER-1756700000000-A1B2C3D4"])
}

func TestProcess_CaptureFraudStatus(t *testing.T) {
	tests := []struct {
		name        string
		fraudStatus string
		settled     bool
	}{
		{"accept settles", "accept", true},
		{"challenge waits", "challenge", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.orders["ORDER-1756700000000-A1B2C3D4"] = 1
			svc := newService(store)

			n := notification("ORDER-1756700000000-A1B2C3D4", "capture")
			n.FraudStatus = tt.fraudStatus

			ack, err := svc.Process(context.Background(), n)
			require.NoError(t, err)
			assert.Equal(t, AckOK, ack)
			assert.Equal(t, tt.settled, store.settled["ORDER-1756700000000-A1B2C3D4"])
		})
	}
}

func TestProcess_Failure(t *testing.T) {
	for _, status := range []string{"cancel", "deny", "expire"} {
		t.Run(status, func(t *testing.T) {
			store := newFakeStore()
			store.orders["ORDER-1756700000000-A1B2C3D4"] = 2
			svc := newService(store)

			ack, err := svc.Process(context.Background(), notification("ORDER-1756700000000-A1B2C3D4", status))
			require.NoError(t, err)
			assert.Equal(t, AckOK, ack)
			assert.Equal(t, 1, store.failures)
			assert.Equal(t, 0, store.successes)
			assert.True(t, store.failed["ORDER-1756700000000-A1B2C3D4"])
		})
	}
}

func TestProcess_PendingIsNoOp(t *testing.T) {
	store := newFakeStore()
	store.orders["ORDER-1756700000000-A1B2C3D4"] = 1
	svc := newService(store)

	ack, err := svc.Process(context.Background(), notification("ORDER-1756700000000-A1B2C3D4", "pending"))
	require.NoError(t, err)
	assert.Equal(t, AckOK, ack)
	assert.Equal(t, 0, store.successes)
	assert.Equal(t, 0, store.failures)
}

// A redelivered settlement must land on already-final rows and change
// nothing the second time.
func TestProcess_SettlementRedelivery(t *testing.T) {
	store := newFakeStore()
	store.orders["ORDER-1756700000000-A1B2C3D4"] = 3
	svc := newService(store)

	n := notification("ORDER-1756700000000-A1B2C3D4", "settlement")

	for i := 0; i < 3; i++ {
		ack, err := svc.Process(context.Background(), n)
		require.NoError(t, err)
		assert.Equal(t, AckOK, ack)
	}

	assert.Equal(t, 3, store.successes)
	assert.True(t, store.settled["ORDER-1756700000000-A1B2C3D4"])
}

// A failure after a settlement finds no pending payments left and must
// not claw the order back.
func TestProcess_FailureAfterSettlement(t *testing.T) {
	store := newFakeStore()
	store.orders["ORDER-1756700000000-A1B2C3D4"] = 2
	svc := newService(store)

	_, err := svc.Process(context.Background(), notification("ORDER-1756700000000-A1B2C3D4", "settlement"))
	require.NoError(t, err)

	ack, err := svc.Process(context.Background(), notification("ORDER-1756700000000-A1B2C3D4", "expire"))
	require.NoError(t, err)
	assert.Equal(t, AckOK, ack)

	assert.True(t, store.settled["ORDER-1756700000000-A1B2C3D4"])
	assert.False(t, store.failed["ORDER-1756700000000-A1B2C3D4"])
}

func TestProcess_StoreErrorStillAcks(t *testing.T) {
	store := newFakeStore()
	store.orders["ORDER-1756700000000-A1B2C3D4"] = 1
	store.applyErr = errors.New("connection refused")
	svc := newService(store)

	ack, err := svc.Process(context.Background(), notification("ORDER-1756700000000-A1B2C3D4", "settlement"))
	require.Error(t, err)
	assert.Equal(t, AckOK, ack)
}
