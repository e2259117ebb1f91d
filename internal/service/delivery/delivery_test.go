package delivery

import (
	"context"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalshopbot/shopbot/internal/domain"
)

var licenseKeyPattern = regexp.MustCompile(`^[A-Z0-9]{4}(-[A-Z0-9]{4}){3}$`)

func strPtr(s string) *string { return &s }

func fileProduct(url, password string) *domain.Product {
	p := &domain.Product{ID: uuid.New(), Fulfillment: domain.FulfillmentFile}
	if url != "" {
		p.FileURL = strPtr(url)
	}
	if password != "" {
		p.FilePassword = strPtr(password)
	}
	return p
}

func TestGenerate_File(t *testing.T) {
	d := NewDispatcher()

	payload, err := d.Generate(context.Background(), fileProduct("https://cdn.example.com/a.zip", "secret"), 1)
	require.NoError(t, err)
	assert.Equal(t, "file", payload["type"])
	assert.Equal(t, "https://cdn.example.com/a.zip", payload["link"])
	assert.Equal(t, "secret", payload["password"])
}

func TestGenerate_FileWithoutPasswordOmitsKey(t *testing.T) {
	d := NewDispatcher()

	payload, err := d.Generate(context.Background(), fileProduct("https://cdn.example.com/a.zip", ""), 1)
	require.NoError(t, err)
	_, ok := payload["password"]
	assert.False(t, ok)
}

func TestGenerate_FileWithoutURLFails(t *testing.T) {
	d := NewDispatcher()

	_, err := d.Generate(context.Background(), fileProduct("", ""), 1)
	require.ErrorIs(t, err, domain.ErrDeliveryFailed)
}

func TestGenerate_LicenseKeys(t *testing.T) {
	d := NewDispatcher()
	product := &domain.Product{ID: uuid.New(), Fulfillment: domain.FulfillmentLicenseKey}

	payload, err := d.Generate(context.Background(), product, 3)
	require.NoError(t, err)
	assert.Equal(t, "license_key", payload["type"])

	keys, ok := payload["keys"].([]string)
	require.True(t, ok)
	require.Len(t, keys, 3)

	seen := make(map[string]bool)
	for _, key := range keys {
		assert.Regexp(t, licenseKeyPattern, key)
		assert.False(t, seen[key], "keys within one order must differ")
		seen[key] = true
	}
}

func TestGenerate_AccountCredentials(t *testing.T) {
	d := NewDispatcher()
	product := &domain.Product{ID: uuid.New(), Fulfillment: domain.FulfillmentAccount}

	payload, err := d.Generate(context.Background(), product, 2)
	require.NoError(t, err)
	assert.Equal(t, "account", payload["type"])

	creds, ok := payload["credentials"].([]map[string]string)
	require.True(t, ok)
	require.Len(t, creds, 2)

	loginPattern := regexp.MustCompile(`^(user|player|gamer|account)\d{6}$`)
	for _, c := range creds {
		assert.Regexp(t, loginPattern, c["login"])
		assert.GreaterOrEqual(t, len(c["password"]), 8)
		assert.LessOrEqual(t, len(c["password"]), 12)
	}
}

func TestGenerate_ManualMarker(t *testing.T) {
	d := NewDispatcher()
	product := &domain.Product{ID: uuid.New(), Fulfillment: domain.FulfillmentManual}

	payload, err := d.Generate(context.Background(), product, 1)
	require.NoError(t, err)
	assert.Equal(t, "manual", payload["type"])
	assert.Equal(t, true, payload["manual"])
}

func TestGenerate_UnknownFulfillmentFails(t *testing.T) {
	d := NewDispatcher()
	product := &domain.Product{ID: uuid.New(), Fulfillment: domain.Fulfillment("subscription")}

	_, err := d.Generate(context.Background(), product, 1)
	require.ErrorIs(t, err, domain.ErrDeliveryFailed)
}

func TestGenerateLicenseKey_Uniqueness(t *testing.T) {
	seen := make(map[string]bool, 200)
	for i := 0; i < 200; i++ {
		key, err := generateLicenseKey()
		require.NoError(t, err)
		require.False(t, seen[key], "duplicate key %s after %d draws", key, i)
		seen[key] = true
	}
}
