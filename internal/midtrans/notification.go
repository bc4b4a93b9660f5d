package midtrans

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
)

// Notification is the webhook payload Midtrans delivers after the
// buyer finishes (or abandons) payment. Amount fields stay strings:
// the signature is computed over the raw wire values.
type Notification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	PaymentType       string `json:"payment_type"`
	TransactionID     string `json:"transaction_id"`
}

// Probe reports whether the notification is a connectivity test rather
// than a payment outcome. Midtrans sends these without an order id.
func (n *Notification) Probe() bool {
	return n.OrderID == ""
}

// Verifier validates notification signatures against the shared server
// key.
type Verifier struct {
	serverKey string
}

func NewVerifier(serverKey string) *Verifier {
	return &Verifier{serverKey: serverKey}
}

// Valid recomputes sha512(order_id + status_code + gross_amount +
// server_key) and compares it to the supplied signature in constant
// time.
func (v *Verifier) Valid(n *Notification) bool {
	sum := sha512.Sum512([]byte(n.OrderID + n.StatusCode + n.GrossAmount + v.serverKey))
	want := hex.EncodeToString(sum[:])

	return subtle.ConstantTimeCompare([]byte(want), []byte(n.SignatureKey)) == 1
}
