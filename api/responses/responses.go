package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	zlog "github.com/rs/zerolog/log"

	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/types"
)

// RequestIDHeader is set by the request id middleware. Error bodies echo it so
// sellers can quote it to support.
const RequestIDHeader = "X-Request-Id"

// callerMessageCodes may show their own message instead of the public one.
var callerMessageCodes = map[pkgerrors.Code]bool{
	pkgerrors.CodeValidation:    true,
	pkgerrors.CodeForbidden:     true,
	pkgerrors.CodeUnauthorized:  true,
	pkgerrors.CodeNotFound:      true,
	pkgerrors.CodeConflict:      true,
	pkgerrors.CodeStateConflict: true,
	pkgerrors.CodeIdempotency:   true,
	pkgerrors.CodeRateLimit:     true,
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteError renders err as an ErrorEnvelope. Untyped errors become internal.
// A retryable error whose details carry retry_after_seconds also sets
// Retry-After.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	body := types.APIError{
		Code:      string(typed.Code()),
		Message:   publicMessage(typed, meta),
		Retryable: meta.Retryable,
		RequestID: w.Header().Get(RequestIDHeader),
	}
	if meta.DetailsAllowed {
		body.Details = typed.Details()
	}

	logRejection(ctx, logg, err, typed, meta)

	if meta.Retryable {
		if secs, ok := retryAfterSeconds(typed.Details()); ok {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}
	writeJSON(w, meta.HTTPStatus, types.ErrorEnvelope{Error: body})
}

func publicMessage(typed *pkgerrors.Error, meta pkgerrors.Metadata) string {
	if callerMessageCodes[typed.Code()] && typed.Message() != "" {
		return typed.Message()
	}
	return meta.PublicMessage
}

func logRejection(ctx context.Context, logg *logger.Logger, err error, typed *pkgerrors.Error, meta pkgerrors.Metadata) {
	if logg == nil {
		return
	}
	fields := pkgerrors.Dump(err).Fields()
	if details, ok := typed.Details().(map[string]any); ok {
		if step, ok := details["step"]; ok {
			fields["step"] = step
		}
	}
	ctx = logg.WithFields(ctx, fields)
	if meta.HTTPStatus >= http.StatusInternalServerError {
		logg.Error(ctx, "request.error", err)
		return
	}
	logg.Warn(ctx, "request.rejected")
}

func retryAfterSeconds(details any) (int, bool) {
	m, ok := details.(map[string]any)
	if !ok {
		return 0, false
	}
	var secs int
	switch v := m["retry_after_seconds"].(type) {
	case int:
		secs = v
	case int64:
		secs = int(v)
	case float64:
		secs = int(v)
	}
	return secs, secs > 0
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zlog.Error().Err(err).Int("status", status).Msg("response.encode_failed")
	}
}
