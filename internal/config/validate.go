package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"geo-nearby/internal/buffer"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	sourceKinds = map[string]struct{}{KindMemory: {}, KindPostGIS: {}, KindFeatureService: {}}
)

var (
	ErrInvalidDistance = errors.New("buffer distance must be > 0")
	ErrInvalidUnit     = buffer.ErrInvalidUnit
	ErrInvalidConfig   = errors.New("invalid configuration")
)

// validatorInstance 包内共享的校验器；自定义规则 buffer_unit 与 source_kind
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("buffer_unit", func(fl validator.FieldLevel) bool {
			return buffer.Unit(fl.Field().Int()).Valid()
		})

		_ = v.RegisterValidation("source_kind", func(fl validator.FieldLevel) bool {
			_, ok := sourceKinds[fl.Field().String()]
			return ok
		})

		validateInst = v
	})
	return validateInst
}

// validate 校验结构体并把字段错误映射为包内哨兵错误
func validate(s any) error {
	err := validatorInstance().Struct(s)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err
	}
	errs := make([]error, 0, len(ves))
	for _, fe := range ves {
		switch fe.Tag() {
		case "buffer_unit":
			errs = append(errs, fmt.Errorf("%s: %w", fe.Namespace(), ErrInvalidUnit))
		default:
			if fe.Field() == "Distance" {
				errs = append(errs, fmt.Errorf("%s=%v: %w", fe.Namespace(), fe.Value(), ErrInvalidDistance))
				continue
			}
			errs = append(errs, fmt.Errorf("%w: %s failed %q", ErrInvalidConfig, fe.Namespace(), fe.Tag()))
		}
	}
	return errors.Join(errs...)
}
