package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lexure-intelligence/momopay-orchestrator/internal/errs"
)

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+233 24 123 4567", "+233241234567"},
		{"024-123-4567", "0241234567"},
		{"+233(24)1234567", "+233241234567"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanonicalizePhone(tt.in))
	}
}

func TestSanitizeControlChars(t *testing.T) {
	in := "hello\x00\x1fworld\x7f!"
	assert.Equal(t, "helloworld!", SanitizeControlChars(in))
}

func TestValidatorValidate(t *testing.T) {
	v := New(100, 500000)

	valid := PaymentRequest{
		UserID:         "user-123",
		AmountMinor:    1000,
		Currency:       "GHS",
		RecipientPhone: "+233241234567",
		RecipientName:  "Ama Mensah",
	}
	assert.NoError(t, v.Validate(valid))

	tests := []struct {
		name    string
		mutate  func(r PaymentRequest) PaymentRequest
		wantErr errs.Kind
	}{
		{
			name:    "missing user id",
			mutate:  func(r PaymentRequest) PaymentRequest { r.UserID = ""; return r },
			wantErr: errs.ValidationError,
		},
		{
			name:    "bad user id characters",
			mutate:  func(r PaymentRequest) PaymentRequest { r.UserID = "a b!"; return r },
			wantErr: errs.ValidationError,
		},
		{
			name:    "invalid phone",
			mutate:  func(r PaymentRequest) PaymentRequest { r.RecipientPhone = "not-a-phone"; return r },
			wantErr: errs.ValidationError,
		},
		{
			name:    "amount below minimum",
			mutate:  func(r PaymentRequest) PaymentRequest { r.AmountMinor = 10; return r },
			wantErr: errs.ValidationError,
		},
		{
			name:    "amount above maximum",
			mutate:  func(r PaymentRequest) PaymentRequest { r.AmountMinor = 10000000; return r },
			wantErr: errs.ValidationError,
		},
		{
			name:    "zero amount fails struct tag",
			mutate:  func(r PaymentRequest) PaymentRequest { r.AmountMinor = 0; return r },
			wantErr: errs.ValidationError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.mutate(valid))
			assert.Error(t, err)
			assert.Equal(t, tt.wantErr, errs.KindOf(err))
		})
	}
}

func TestRoundAmountIsIdentityOnMinorUnits(t *testing.T) {
	assert.Equal(t, int64(12345), RoundAmount(12345))
}
