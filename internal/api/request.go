package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/greenharvest/harvest-api/internal/apperr"
	"github.com/greenharvest/harvest-api/internal/auth"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// decodeJSON reads one JSON object from the body into dst and validates it
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	const op = "api.decodeJSON"
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		e := apperr.E(op, apperr.ErrInvalidArgument, "Invalid request body")
		e.Details = map[string]any{"error": err.Error()}
		return e
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		e := apperr.E(op, apperr.ErrInvalidArgument, "Invalid request body")
		e.Details = map[string]any{"error": "extra data after json"}
		return e
	}

	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate request: %w", err)
	}
	details := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	e := apperr.E("api.validate", apperr.ErrInvalidArgument, "Invalid value for %s", verrs[0].Field())
	e.Details = details
	return e
}

// pathID parses the int64 path variable name
func pathID(r *http.Request, name, label string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("api.pathID", "Invalid %s ID", label)
	}
	return id, nil
}

// identity returns the authenticated caller
func identity(r *http.Request) (*auth.Identity, error) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		return nil, apperr.Unauthorized("api.identity", "No token provided")
	}
	return id, nil
}
