package availability

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/hackgods/provider-availability/internal/calendar"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks spec in the order a caller should fix problems: time
// range, timezone, recurrence, then field bounds.
func (spec WindowSpec) Validate() error {
	if !calendar.IsTimeRangeValid(spec.StartTime, spec.EndTime) {
		return fmt.Errorf("%w: %s-%s", ErrInvalidTimeRange,
			calendar.FormatClock(spec.StartTime), calendar.FormatClock(spec.EndTime))
	}
	if !calendar.IsValidTimezone(spec.Timezone) {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, spec.Timezone)
	}
	needsPattern := spec.IsRecurring && spec.RecurrenceEndDate != nil
	if (needsPattern || spec.RecurrencePattern != "") && !spec.RecurrencePattern.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRecurrencePattern, spec.RecurrencePattern)
	}
	return validateFields(spec)
}

func validateFields(spec WindowSpec) error {
	fields := map[string]string{}

	if !spec.Date.IsValid() {
		fields["date"] = "must be a valid calendar date"
	}
	if err := validate.Struct(spec); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate availability: %w", err)
		}
		for _, fe := range verrs {
			fields[fe.Namespace()] = describe(fe)
		}
	}
	if spec.Pricing != nil && spec.Pricing.BaseFee.IsNegative() {
		fields["WindowSpec.Pricing.BaseFee"] = "must be greater than or equal to 0"
	}
	if spec.RecurrenceEndDate != nil && spec.RecurrenceEndDate.Before(spec.Date) {
		fields["WindowSpec.RecurrenceEndDate"] = "must not be before date"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "oneof":
		return "must be one of " + fe.Param()
	case "alpha":
		return "must contain letters only"
	default:
		return "failed " + fe.Tag()
	}
}
