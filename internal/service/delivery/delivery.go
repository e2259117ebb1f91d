// Package delivery generates the payload a buyer receives for a paid order.
// Each fulfillment kind maps to one generator; the payload is persisted on
// the order before anything is sent to the buyer, so a crashed send can be
// retried without regenerating credentials.
package delivery

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/digitalshopbot/shopbot/internal/domain"
)

const (
	licenseKeyGroups   = 4
	licenseKeyGroupLen = 4
	licenseKeyCharset  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	accountDigits      = 6
	passwordMinLen     = 8
	passwordMaxLen     = 12
	passwordCharset    = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"
	accountLoginDigits = "0123456789"
)

var accountLoginPrefixes = []string{"user", "player", "gamer", "account"}

type Dispatcher struct{}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Generate produces the delivery payload for one order of the given product.
// Quantity matters only for generated goods: a quantity-3 license order gets
// three keys. Manual fulfillment yields a marker payload; the shop operator
// completes it by hand.
func (d *Dispatcher) Generate(ctx context.Context, product *domain.Product, quantity int) (map[string]any, error) {
	switch product.Fulfillment {
	case domain.FulfillmentFile:
		if product.FileURL == nil || *product.FileURL == "" {
			return nil, fmt.Errorf("Generate: product %s has no file url: %w", product.ID, domain.ErrDeliveryFailed)
		}
		payload := map[string]any{"type": "file", "link": *product.FileURL}
		if product.FilePassword != nil && *product.FilePassword != "" {
			payload["password"] = *product.FilePassword
		}
		return payload, nil

	case domain.FulfillmentLicenseKey:
		keys := make([]string, 0, quantity)
		for i := 0; i < quantity; i++ {
			key, err := generateLicenseKey()
			if err != nil {
				return nil, fmt.Errorf("Generate: %w", err)
			}
			keys = append(keys, key)
		}
		return map[string]any{"type": "license_key", "keys": keys}, nil

	case domain.FulfillmentAccount:
		creds := make([]map[string]string, 0, quantity)
		for i := 0; i < quantity; i++ {
			login, password, err := generateAccountCredentials()
			if err != nil {
				return nil, fmt.Errorf("Generate: %w", err)
			}
			creds = append(creds, map[string]string{"login": login, "password": password})
		}
		return map[string]any{"type": "account", "credentials": creds}, nil

	case domain.FulfillmentManual:
		return map[string]any{"type": "manual", "manual": true}, nil

	default:
		return nil, fmt.Errorf("Generate: unknown fulfillment %q: %w", product.Fulfillment, domain.ErrDeliveryFailed)
	}
}

// generateLicenseKey returns a key like K7KQ-9ZBM-P3A1-XY0D.
func generateLicenseKey() (string, error) {
	groups := make([]string, licenseKeyGroups)
	for g := range groups {
		var b strings.Builder
		for i := 0; i < licenseKeyGroupLen; i++ {
			c, err := randByte(licenseKeyCharset)
			if err != nil {
				return "", err
			}
			b.WriteByte(c)
		}
		groups[g] = b.String()
	}
	return strings.Join(groups, "-"), nil
}

func generateAccountCredentials() (login, password string, err error) {
	prefixIdx, err := randInt(len(accountLoginPrefixes))
	if err != nil {
		return "", "", err
	}
	var digits strings.Builder
	for i := 0; i < accountDigits; i++ {
		c, err := randByte(accountLoginDigits)
		if err != nil {
			return "", "", err
		}
		digits.WriteByte(c)
	}
	login = accountLoginPrefixes[prefixIdx] + digits.String()

	span := passwordMaxLen - passwordMinLen + 1
	extra, err := randInt(span)
	if err != nil {
		return "", "", err
	}
	length := passwordMinLen + extra
	var pw strings.Builder
	for i := 0; i < length; i++ {
		c, err := randByte(passwordCharset)
		if err != nil {
			return "", "", err
		}
		pw.WriteByte(c)
	}
	return login, pw.String(), nil
}

func randByte(charset string) (byte, error) {
	n, err := randInt(len(charset))
	if err != nil {
		return 0, err
	}
	return charset[n], nil
}

func randInt(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("randInt: %w", err)
	}
	return int(n.Int64()), nil
}
