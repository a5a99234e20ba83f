package domain

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validatorInst *validator.Validate
)

func getValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInst = validator.New()
	})
	return validatorInst
}

// ValidateAlert checks that an inbound alert carries every field the
// processor requires before it will accept it.
func ValidateAlert(a *Alert) error {
	if err := getValidator().Struct(a); err != nil {
		return err
	}
	if !a.Severity.Valid() {
		return fmt.Errorf("invalid severity %q", a.Severity)
	}
	return nil
}
