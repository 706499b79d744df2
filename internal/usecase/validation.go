package usecase

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/riskibarqy/teamsync/internal/domain/record"
)

func newEntityValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// validateEntity runs struct tags first, then the entity's own invariants.
func validateEntity(ctx context.Context, v *validator.Validate, entity record.Entity) error {
	if entity == nil {
		return fmt.Errorf("%w: entity is required", ErrInvalidInput)
	}
	if err := v.StructCtx(ctx, entity); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidInput, entity.RecordKey().Type, err)
	}
	if err := entity.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
