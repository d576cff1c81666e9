package trade

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var errBadRequest = errors.New("bad request")

// FieldError describes one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// validationError carries the field errors of a rejected body.
type validationError struct {
	Fields []FieldError
}

func (e *validationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}

func (e *validationError) Unwrap() error { return errBadRequest }

// readRequest decodes the JSON body into req, fills defaults and validates
// it.
func readRequest(r *http.Request, req any) error {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		return fmt.Errorf("%w: invalid request body", errBadRequest)
	}
	if err := defaults.Set(req); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := validate.StructCtx(r.Context(), req); err != nil {
		var ves validator.ValidationErrors
		if !errors.As(err, &ves) {
			return fmt.Errorf("%w: %v", errBadRequest, err)
		}
		fields := make([]FieldError, len(ves))
		for i, fe := range ves {
			fields[i] = FieldError{
				Field:   fe.Field(),
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Message: fieldMessage(fe),
			}
		}
		return &validationError{Fields: fields}
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s items", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must have at most %s items", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

// rejectRequest writes a 400 for a readRequest error, listing field errors
// when there are any.
func rejectRequest(w http.ResponseWriter, err error) {
	var ve *validationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  ve.Error(),
			"fields": ve.Fields,
		})
		return
	}
	writeError(w, err.Error(), http.StatusBadRequest)
}
