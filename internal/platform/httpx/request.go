package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultBodyLimit caps request bodies when callers pass a non-positive limit.
const DefaultBodyLimit int64 = 16 * 1024

// NewValidator returns a validator that reports fields by their JSON names and
// understands the notblank tag.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		field := fl.Field()
		if field.Kind() != reflect.String {
			return true
		}
		return strings.TrimSpace(field.String()) != ""
	})
	return v
}

// DecodeJSON reads at most limit bytes into dst, rejects unknown fields and runs
// struct validation when v is non-nil. Failures are returned as Error.
func DecodeJSON(r *http.Request, limit int64, dst any, v *validator.Validate) error {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	if r == nil || r.Body == nil {
		return NewError("invalid_request", "request body is required", http.StatusBadRequest)
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return NewError("invalid_request", "request body could not be read", http.StatusBadRequest)
	}
	if int64(len(data)) > limit {
		return NewError("payload_too_large", fmt.Sprintf("request body exceeds %d bytes", limit), http.StatusRequestEntityTooLarge)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return NewError("invalid_request", "request body is required", http.StatusBadRequest)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return NewError("invalid_request", "request body must be valid JSON: "+err.Error(), http.StatusBadRequest)
	}
	if v == nil {
		return nil
	}
	if err := v.Struct(dst); err != nil {
		return FromValidation(err)
	}
	return nil
}

// FromValidation converts validator failures into a 400 listing the offending fields.
func FromValidation(err error) Error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return NewError("invalid_request", err.Error(), http.StatusBadRequest)
	}
	fields := make(map[string]string, len(fieldErrs))
	names := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		name := strings.TrimPrefix(fe.Namespace(), rootNamespace(fe))
		if _, seen := fields[name]; !seen {
			names = append(names, name)
		}
		fields[name] = fe.Tag()
	}
	return NewError("invalid_request", "invalid fields: "+strings.Join(names, ", "), http.StatusBadRequest).
		WithDetails(map[string]any{"fields": fields})
}

func rootNamespace(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[:idx+1]
	}
	return ""
}
