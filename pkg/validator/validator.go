// Package validator holds the custom go-playground validation tags used by
// request bindings.
package validator

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var currencyPattern = regexp.MustCompile(`^[A-Za-z]{3}$`)

// Tags maps each custom tag to its validation func.
var Tags = map[string]validator.Func{
	"currency":        Currency,
	"idempotency_key": IdempotencyKey,
}

// Currency accepts a 3-letter ISO 4217 code in any case. Services uppercase
// it before storing.
func Currency(fl validator.FieldLevel) bool {
	return currencyPattern.MatchString(fl.Field().String())
}

// IdempotencyKey rejects blank keys and keys longer than 255 bytes.
func IdempotencyKey(fl validator.FieldLevel) bool {
	key := strings.TrimSpace(fl.Field().String())
	return key != "" && len(key) <= 255
}

// Register installs Tags on v.
func Register(v *validator.Validate) error {
	for tag, fn := range Tags {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	return nil
}
