package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dingdong-ecommerce/api/internal/platform/auth"
	"github.com/dingdong-ecommerce/api/internal/platform/httpx"
	"github.com/dingdong-ecommerce/api/internal/services"
)

const defaultBodyLimit = 16 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

var requestValidator = newRequestValidator()

// newRequestValidator reports JSON field names in validation details.
func newRequestValidator() *validator.Validate {
	v := services.NewValidator()
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
	return v
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeRequest reads a size limited JSON body into dst and validates its
// struct tags. An empty body is accepted when optional is set.
func decodeRequest(r *http.Request, limit int64, dst any, optional bool) *httpx.Error {
	body, err := readLimitedBody(r, limit)
	switch {
	case errors.Is(err, errEmptyBody) && optional:
		body = []byte("{}")
	case errors.Is(err, errBodyTooLarge):
		e := httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge)
		return &e
	case err != nil:
		e := httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
		return &e
	}

	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		e := httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest)
		return &e
	}
	if err := requestValidator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]any, len(verrs))
			for _, fe := range verrs {
				details[fe.Field()] = fe.Tag()
			}
			e := httpx.NewError("invalid_request", "request validation failed", http.StatusBadRequest).WithDetails(details)
			return &e
		}
		e := httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
		return &e
	}
	return nil
}

// requireUser returns the caller's UID or writes a 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return identity.UID, true
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, http.StatusServiceUnavailable))
}

// NoStore marks responses as uncacheable.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePointer(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseRFC3339(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
