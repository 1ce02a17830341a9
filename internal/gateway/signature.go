package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

func sign(secret string, msg []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(msg)
	return h.Sum(nil)
}

// CheckoutSignature is hex(HMAC-SHA256(secret, orderID|paymentID)), the value
// the provider hands to the client after a successful payment.
func CheckoutSignature(secret, orderID, paymentID string) string {
	return hex.EncodeToString(sign(secret, []byte(orderID+"|"+paymentID)))
}

// WebhookSignature is hex(HMAC-SHA256(secret, body)).
func WebhookSignature(secret string, body []byte) string {
	return hex.EncodeToString(sign(secret, body))
}

func verify(secret string, msg []byte, signature string) error {
	if secret == "" {
		return ErrSignatureMismatch
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || !hmac.Equal(got, sign(secret, msg)) {
		return ErrSignatureMismatch
	}
	return nil
}

func VerifyCheckout(secret, orderID, paymentID, signature string) error {
	return verify(secret, []byte(orderID+"|"+paymentID), signature)
}

func VerifyWebhook(secret string, body []byte, signature string) error {
	return verify(secret, body, signature)
}
