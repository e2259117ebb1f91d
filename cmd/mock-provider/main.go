// mock-provider simulates the payment provider for local testing: it signs
// a payment confirmation the way the provider would and posts it to the
// bot's webhook endpoint.
//
//	WEBHOOK_URL=http://localhost:8080/webhooks/payment \
//	WEBHOOK_SECRET=dev-secret \
//	ORDER_ID=<uuid> AMOUNT=150.00 go run ./cmd/mock-provider
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
)

func main() {
	url := envOr("WEBHOOK_URL", "http://localhost:8080/webhooks/payment")
	secret := os.Getenv("WEBHOOK_SECRET")
	orderID := os.Getenv("ORDER_ID")
	amount := os.Getenv("AMOUNT")

	if secret == "" || orderID == "" || amount == "" {
		slog.Error("WEBHOOK_SECRET, ORDER_ID and AMOUNT are required")
		os.Exit(1)
	}

	payload, err := json.Marshal(map[string]string{
		"order_id":            orderID,
		"provider_payment_id": "mock-" + uuid.NewString(),
		"amount":              amount,
		"status":              envOr("STATUS", "succeeded"),
	})
	if err != nil {
		slog.Error("marshal payload", "error", err)
		os.Exit(1)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		slog.Error("build request", "error", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		slog.Error("post webhook", "error", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	slog.Info("webhook delivered", "status", resp.StatusCode, "response", string(body))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
