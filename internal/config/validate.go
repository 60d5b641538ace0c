package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.Source.validate("source")...)
	errs = append(errs, c.Destination.validate("destination")...)

	if c.Destination.Mbox != "" {
		errs = append(errs, errors.New("destination.mbox is not supported, the destination must be an IMAP server"))
	}
	if c.KeepAlive <= 0 {
		errs = append(errs, errors.New("keepalive must be positive"))
	}
	if err := validate.Struct(c.Log); err != nil {
		errs = append(errs, fieldErrors("log", err)...)
	}

	return errors.Join(errs...)
}

func (a Account) validate(prefix string) []error {
	var errs []error
	if err := validate.Struct(a); err != nil {
		errs = append(errs, fieldErrors(prefix, err)...)
	}
	if a.Mbox != "" {
		return errs
	}
	if a.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s.timeout must not be negative", prefix))
	}
	return errs
}

func fieldErrors(prefix string, err error) []error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []error{fmt.Errorf("%s: %w", prefix, err)}
	}
	out := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		field := prefix + "." + strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required_without":
			out = append(out, fmt.Errorf("%s is required", field))
		case "min", "max":
			out = append(out, fmt.Errorf("%s must be between 1 and 65535", field))
		case "oneof":
			out = append(out, fmt.Errorf("%s must be one of: %s", field, fe.Param()))
		default:
			out = append(out, fmt.Errorf("%s is invalid (%s)", field, fe.Tag()))
		}
	}
	return out
}
