package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureVerifier checks the gateway's checkout signature. The key secret
// stays server-side.
type SignatureVerifier struct {
	secret []byte
}

func NewSignatureVerifier(keySecret string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(keySecret)}
}

// Sign returns hex(HMAC-SHA256(secret, orderID + "|" + paymentID)).
func (v *SignatureVerifier) Sign(gatewayOrderID, paymentID string) string {
	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(gatewayOrderID + "|" + paymentID))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether signature matches the expected digest exactly.
func (v *SignatureVerifier) Verify(gatewayOrderID, paymentID, signature string) bool {
	if len(v.secret) == 0 || signature == "" {
		return false
	}
	expected := v.Sign(gatewayOrderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}
