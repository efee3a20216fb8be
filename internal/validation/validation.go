package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fedutinova/starq/internal/common"
	"github.com/go-playground/validator/v10"
)

const (
	MaxBatchSize    = 1000
	MaxPayloadBytes = 256 << 10 // 256kb per payload, post-encoding
)

// queueNameRe also bounds length to 128; the validator max tag is a
// belt-and-braces duplicate for nicer error messages.
var queueNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,127}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("queuename", func(fl validator.FieldLevel) bool {
		return queueNameRe.MatchString(fl.Field().String())
	})
	return v
}

// Struct validates a request body and maps validator failures onto the
// domain validation error so the HTTP layer can answer 422.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var invalid *validator.InvalidValidationError
	if ok := isInvalid(err, &invalid); ok {
		return fmt.Errorf("validate: %w", err)
	}
	var messages []string
	for _, fe := range err.(validator.ValidationErrors) {
		messages = append(messages, fieldMessage(fe))
	}
	return common.ValidationError{Field: "body", Message: strings.Join(messages, "; ")}
}

func isInvalid(err error, target **validator.InvalidValidationError) bool {
	ive, ok := err.(*validator.InvalidValidationError)
	if ok {
		*target = ive
	}
	return ok
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "queuename":
		return fmt.Sprintf("%s must match ^[a-z0-9][a-z0-9._-]{0,127}$", fe.Field())
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

// QueueName reports whether name is a valid queue name.
func QueueName(name string) bool {
	return queueNameRe.MatchString(name)
}

// PayloadSize checks one encoded payload against the size cap.
func PayloadSize(encoded []byte) error {
	if len(encoded) > MaxPayloadBytes {
		return common.ValidationError{
			Field:   "payload",
			Message: fmt.Sprintf("payload exceeds maximum size of %d bytes", MaxPayloadBytes),
		}
	}
	return nil
}

// BatchSize checks the number of jobs in a single submit call.
func BatchSize(n int) error {
	if n == 0 {
		return common.ValidationError{Field: "jobs", Message: "at least one job must be provided"}
	}
	if n > MaxBatchSize {
		return common.ValidationError{
			Field:   "jobs",
			Message: fmt.Sprintf("batch exceeds maximum size of %d jobs", MaxBatchSize),
		}
	}
	return nil
}
