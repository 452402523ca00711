package rivalwatch

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// MaxTargetsPerOwner caps how many pages one owner can monitor.
const MaxTargetsPerOwner = 500

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// validatorInstance returns the shared validator, reporting fields by their
// json or yaml name.
func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, key := range []string{"json", "yaml"} {
				tag := fld.Tag.Get(key)
				if tag == "" || tag == "-" {
					continue
				}
				if idx := strings.Index(tag, ","); idx >= 0 {
					tag = tag[:idx]
				}
				return tag
			}
			return fld.Name
		})
	})
	return validate
}

// targetInput is the validated subset of a Target. Scan intervals run from
// one minute to seven days.
type targetInput struct {
	OwnerID      string `json:"owner_id" validate:"required,max=256"`
	Name         string `json:"name" validate:"required,max=512"`
	URL          string `json:"url" validate:"required,max=4096,http_url"`
	ScanInterval int64  `json:"scan_interval" validate:"omitempty,min=60000,max=604800000"`
}

// validateTargetInput checks a target's mutable fields before insert.
func validateTargetInput(t *Target) error {
	in := targetInput{
		OwnerID:      t.OwnerID,
		Name:         strings.TrimSpace(t.Name),
		URL:          t.URL,
		ScanInterval: t.ScanInterval,
	}
	if err := validatorInstance().Struct(in); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidInput, describe(err))
	}
	return nil
}

func validateConfig(c *Config) error {
	if err := validatorInstance().Struct(c); err != nil {
		return fmt.Errorf("rivalwatch: config: %s", describe(err))
	}
	return nil
}

// describe flattens validator errors into "field: rule" pairs.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fe.Field() + ": " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, ", ")
}
