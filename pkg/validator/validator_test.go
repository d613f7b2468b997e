package validator

import (
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paymentInput struct {
	Currency string `validate:"omitempty,currency"`
	Key      string `validate:"idempotency_key"`
}

func TestRegister(t *testing.T) {
	v := validator.New()
	require.NoError(t, Register(v))

	tests := []struct {
		name  string
		input paymentInput
		valid bool
	}{
		{"upper currency", paymentInput{Currency: "INR", Key: "k"}, true},
		{"lower currency", paymentInput{Currency: "usd", Key: "k"}, true},
		{"empty currency", paymentInput{Key: "k"}, true},
		{"long currency", paymentInput{Currency: "RUPEE", Key: "k"}, false},
		{"digits", paymentInput{Currency: "US1", Key: "k"}, false},
		{"blank key", paymentInput{Currency: "INR", Key: "  "}, false},
		{"long key", paymentInput{Currency: "INR", Key: strings.Repeat("a", 256)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(tt.input)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
