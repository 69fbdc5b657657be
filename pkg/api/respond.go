package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/arti-ci/sygfp-ledger/pkg/apperrors"
)

// maxBodyBytes bounds a command body.
const maxBodyBytes = 1 << 20

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInsufficientCapacity):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrIncompleteData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperrors.ErrInvalidTransfer):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrConcurrency):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrIllegalTransition):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrInvalidInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError renders err. Errors outside the taxonomy are logged and
// answered with a generic message.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := StatusFor(err)
	var coded apperrors.Coded
	if errors.As(err, &coded) {
		writeJSON(w, status, errorBody{Error: coded.Error(), Code: coded.Code(), Details: coded.Details()})
		return
	}
	logger.Error("request failed", "error", err)
	writeJSON(w, status, errorBody{Error: "internal error", Code: "INTERNAL"})
}

func badRequest(field, msg string) error {
	return &apperrors.ValidationError{Fields: map[string]string{field: msg}}
}

// newValidator returns a validator that checks amounts as numbers and
// reports fields by their JSON name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// validationError converts validator output into the taxonomy.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required", "required_if":
			fields[e.Field()] = "is required"
		case "gt":
			fields[e.Field()] = "must be greater than " + e.Param()
		case "gte":
			fields[e.Field()] = "must be at least " + e.Param()
		case "max":
			fields[e.Field()] = "must be at most " + e.Param() + " long"
		case "oneof":
			fields[e.Field()] = "must be one of: " + e.Param()
		default:
			fields[e.Field()] = "is invalid (" + e.Tag() + ")"
		}
	}
	return &apperrors.ValidationError{Fields: fields}
}

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("body", "is required")
		}
		return badRequest("body", err.Error())
	}
	if err := s.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

// page is a list response.
type page[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"nextPageToken,omitempty"`
	TotalSize     int    `json:"totalSize"`
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, badRequest(name, fmt.Sprintf("invalid number %q", v))
	}
	return n, nil
}

func boolParam(r *http.Request, name string) (*bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, badRequest(name, fmt.Sprintf("invalid flag %q", v))
	}
	return &b, nil
}
