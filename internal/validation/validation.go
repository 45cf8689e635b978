// Package validation implements §6.3's canonical regexes layered under struct-tag
// validation, the way coinbase-x402 uses github.com/go-playground/validator/v10 for
// request validation.
package validation

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/lexure-intelligence/momopay-orchestrator/internal/errs"
)

var (
	phoneRe  = regexp.MustCompile(`^(\+?[1-9]\d{7,14})$`)
	userIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)
)

// PaymentRequest is the struct-tag-validated shape of an inbound initiate_payment call.
type PaymentRequest struct {
	UserID         string `validate:"required"`
	AmountMinor    int64  `validate:"required,gt=0"`
	Currency       string `validate:"required,len=3"`
	RecipientPhone string `validate:"required"`
	RecipientName  string `validate:"required"`
	Description    string
}

// Validator wraps validator.New() with the canonical regex checks §6.3 requires beyond
// what struct tags alone express (phone canonicalisation, user_id character class).
type Validator struct {
	v         *validator.Validate
	minAmount int64
	maxAmount int64
}

func New(minAmount, maxAmount int64) *Validator {
	return &Validator{v: validator.New(), minAmount: minAmount, maxAmount: maxAmount}
}

// Validate runs struct-tag validation then the canonical regex/range checks, returning
// a canonical errs.ValidationError on the first failure.
func (val *Validator) Validate(req PaymentRequest) error {
	if err := val.v.Struct(req); err != nil {
		return errs.New(errs.ValidationError, err)
	}

	if !userIDRe.MatchString(req.UserID) {
		return errs.Newf(errs.ValidationError, "user_id %q does not match canonical pattern", req.UserID)
	}

	stripped := stripNonDigitsKeepPlus(req.RecipientPhone)
	if !phoneRe.MatchString(stripped) {
		return errs.Newf(errs.ValidationError, "recipient_phone %q is not a valid E.164 number", req.RecipientPhone)
	}

	if req.AmountMinor < val.minAmount {
		return errs.Newf(errs.ValidationError, "amount %d below configured minimum %d", req.AmountMinor, val.minAmount)
	}
	if req.AmountMinor > val.maxAmount {
		return errs.Newf(errs.ValidationError, "amount %d above configured maximum %d", req.AmountMinor, val.maxAmount)
	}

	return nil
}

// CanonicalizePhone strips everything but digits and a leading '+', per §4.1 step 1.
func CanonicalizePhone(phone string) string {
	return stripNonDigitsKeepPlus(phone)
}

func stripNonDigitsKeepPlus(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SanitizeControlChars strips control characters, per §4.1 step 1's "strip control
// characters" requirement over free-text fields like recipient_name/description.
func SanitizeControlChars(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RoundAmount returns amountMinor unchanged: an amount already held in minor units
// (cents) carries exactly 2 fractional digits, so §4.1 step 1's rounding has nothing
// left to do. Decimal strings are parsed into minor units by internal/httpapi.
func RoundAmount(amountMinor int64) int64 { return amountMinor }
