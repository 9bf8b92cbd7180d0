// Package httputil holds the JSON response helpers and the single mapping
// from domain error codes to HTTP statuses.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	dErrors "officehub/pkg/domain-errors"
)

// maxBodyBytes bounds request bodies on mutating routes.
const maxBodyBytes = 1 << 20

// ErrorResponse is the body written for every failed request.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// StatusFor maps a domain error code to its HTTP status. The mapping is part
// of the public API and must stay stable.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeChildrenExist:
		return http.StatusConflict
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as an ErrorResponse. Internal errors never leak their
// description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	resp := ErrorResponse{Error: string(code)}
	if code != dErrors.CodeInternal {
		resp.ErrorDescription = dErrors.MessageOf(err)
	}
	WriteJSON(w, StatusFor(code), resp)
}

// WriteJSON encodes body with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// Validatable is implemented by request payloads that normalize and check
// themselves after decoding.
type Validatable interface {
	Validate() error
}

// Decode reads a JSON body into T. Non-JSON content types, malformed JSON and
// trailing data are all reported as CodeBadRequest.
func Decode[T any](r *http.Request) (*T, error) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			return nil, dErrors.New(dErrors.CodeBadRequest, "content type must be application/json")
		}
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	var req T
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, dErrors.New(dErrors.CodeBadRequest, "request body is required")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed payload")
	}
	if dec.More() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "malformed payload")
	}
	return &req, nil
}

// DecodeAndPrepare decodes and validates a request body, writing the error
// response itself when either step fails.
func DecodeAndPrepare[T any, PT interface {
	*T
	Validatable
}](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	req, err := Decode[T](r)
	if err != nil {
		logger.WarnContext(ctx, "invalid request body",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, err)
		return nil, false
	}
	if err := PT(req).Validate(); err != nil {
		logger.WarnContext(ctx, "request validation failed",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, err)
		return nil, false
	}
	return req, true
}
