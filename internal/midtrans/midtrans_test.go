package midtrans

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testServerKey = "SB-Mid-server-testkey"

func signedNotification(orderID, statusCode, grossAmount string) *Notification {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + testServerKey))

	return &Notification{
		OrderID:      orderID,
		StatusCode:   statusCode,
		GrossAmount:  grossAmount,
		SignatureKey: hex.EncodeToString(sum[:]),
	}
}

func TestVerifier_Valid(t *testing.T) {
	v := NewVerifier(testServerKey)

	n := signedNotification("ORDER-1700000000000-AB12CD34", "200", "150000.00")
	assert.True(t, v.Valid(n))
}

func TestVerifier_Invalid(t *testing.T) {
	v := NewVerifier(testServerKey)

	tests := []struct {
		name   string
		mutate func(n *Notification)
	}{
		{"wrong signature", func(n *Notification) { n.SignatureKey = "deadbeef" }},
		{"empty signature", func(n *Notification) { n.SignatureKey = "" }},
		{"tampered amount", func(n *Notification) { n.GrossAmount = "1.00" }},
		{"tampered order id", func(n *Notification) { n.OrderID = "ORDER-0-FFFFFFFF" }},
		{"tampered status code", func(n *Notification) { n.StatusCode = "201" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := signedNotification("ORDER-1700000000000-AB12CD34", "200", "150000.00")
			tt.mutate(n)
			assert.False(t, v.Valid(n))
		})
	}
}

func TestNotification_Probe(t *testing.T) {
	assert.True(t, (&Notification{}).Probe())
	assert.False(t, (&Notification{OrderID: "ORDER-1-AA"}).Probe())
}

func TestMapOutcome(t *testing.T) {
	tests := []struct {
		txStatus    string
		fraudStatus string
		want        Outcome
	}{
		{"settlement", "", OutcomeSuccess},
		{"settlement", "accept", OutcomeSuccess},
		{"capture", "accept", OutcomeSuccess},
		{"capture", "challenge", OutcomePending},
		{"capture", "", OutcomePending},
		{"cancel", "", OutcomeFailed},
		{"deny", "accept", OutcomeFailed},
		{"expire", "", OutcomeFailed},
		{"pending", "", OutcomePending},
		{"authorize", "accept", OutcomePending},
		{"", "", OutcomePending},
	}

	for _, tt := range tests {
		t.Run(tt.txStatus+"/"+tt.fraudStatus, func(t *testing.T) {
			assert.Equal(t, tt.want, MapOutcome(tt.txStatus, tt.fraudStatus))
		})
	}
}

func TestClient_CreateTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/snap/v1/transactions", r.URL.Path)
		assert.Equal(t,
			"Basic "+base64.StdEncoding.EncodeToString([]byte(testServerKey+":")),
			r.Header.Get("Authorization"),
		)

		var req SnapRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(300000), req.TransactionDetails.GrossAmount)
		require.Len(t, req.ItemDetails, 1)
		assert.LessOrEqual(t, len([]rune(req.ItemDetails[0].Name)), 50)

		json.NewEncoder(w).Encode(SnapResponse{
			Token:       "snap-token-123",
			RedirectURL: "https://app.sandbox.midtrans.com/snap/v2/vtweb/snap-token-123",
		})
	}))
	defer srv.Close()

	c := NewClient(Config{ServerKey: testServerKey, BaseURL: srv.URL})

	resp, err := c.CreateTransaction(context.Background(), &SnapRequest{
		TransactionDetails: TransactionDetails{
			OrderID:     "ORDER-1700000000000-AB12CD34",
			GrossAmount: 300000,
		},
		CustomerDetails: CustomerDetails{
			FirstName: "Budi Santoso",
			Email:     "budi@example.com",
			Phone:     "+628123456789",
		},
		ItemDetails: []ItemDetail{{
			ID:       "7",
			Price:    150000,
			Quantity: 2,
			Name:     strings.Repeat("Seminar Nasional Teknologi Informasi ", 3),
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "snap-token-123", resp.Token)
}

func TestClient_CreateTransaction_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error_messages":["unauthorized"]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{ServerKey: "wrong", BaseURL: srv.URL})

	_, err := c.CreateTransaction(context.Background(), &SnapRequest{})
	require.Error(t, err)

	var ge *GatewayError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, http.StatusUnauthorized, ge.StatusCode)
	assert.Contains(t, ge.Body, "unauthorized")
}

func TestClient_CreateTransaction_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(Config{ServerKey: testServerKey, BaseURL: srv.URL, Timeout: 20 * time.Millisecond})

	_, err := c.CreateTransaction(context.Background(), &SnapRequest{})
	assert.Error(t, err)
}

func TestTruncateItemName(t *testing.T) {
	assert.Equal(t, "short", TruncateItemName("short"))

	long := strings.Repeat("a", 80)
	assert.Len(t, TruncateItemName(long), 50)
}
