// Package dialplan normalizes caller-supplied contact addresses into the
// digit form the telephony gateway expects. Normalization rules are
// locale-specific and therefore pluggable.
package dialplan

import (
	"fmt"
	"strings"

	"github.com/acme/agent-dispatch/internal/config"
	apperrors "github.com/acme/agent-dispatch/pkg/errors"
)

// Normalizer converts a raw contact address into gateway digit form.
type Normalizer interface {
	Normalize(raw string) (string, error)
}

// Digits strips every non-digit character.
type Digits struct{}

// Normalize implements Normalizer.
func (Digits) Normalize(raw string) (string, error) {
	digits := stripNonDigits(raw)
	if digits == "" {
		return "", fmt.Errorf("%w: contact address has no digits", apperrors.ErrValidation)
	}
	return digits, nil
}

// NationalMobile strips non-digits and re-inserts the mobile prefix digit
// that subscribers commonly omit from fixed-length national numbers.
type NationalMobile struct {
	// FullLength is the digit count of a complete number; input that is
	// exactly len(Prefix) digits short of it gets Prefix inserted.
	FullLength int
	Prefix     string
	InsertAt   int
}

// Normalize implements Normalizer.
func (n NationalMobile) Normalize(raw string) (string, error) {
	digits := stripNonDigits(raw)
	if digits == "" {
		return "", fmt.Errorf("%w: contact address has no digits", apperrors.ErrValidation)
	}

	if n.FullLength <= 0 || n.Prefix == "" {
		return digits, nil
	}

	missing := n.FullLength - len(n.Prefix)
	if len(digits) != missing {
		return digits, nil
	}
	at := n.InsertAt
	if at < 0 || at > len(digits) {
		at = 0
	}
	return digits[:at] + n.Prefix + digits[at:], nil
}

// FromConfig builds the configured normalizer, defaulting to plain digit
// stripping when no insertion rule is set.
func FromConfig(cfg config.DialplanConfig) Normalizer {
	if cfg.MobileFullLength > 0 && cfg.MobilePrefix != "" {
		return NationalMobile{
			FullLength: cfg.MobileFullLength,
			Prefix:     cfg.MobilePrefix,
			InsertAt:   cfg.MobileInsertAt,
		}
	}
	return Digits{}
}

func stripNonDigits(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
