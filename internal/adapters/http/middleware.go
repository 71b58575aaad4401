package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/l0kol/IPledge/internal/application"
	"github.com/l0kol/IPledge/internal/domain"
	"github.com/l0kol/IPledge/internal/ports"
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeyClaims    ctxKey = "auth_claims"
)

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				httpLogger().ErrorContext(r.Context(), "panic recovered",
					"operation", "http_panic_recovery",
					"outcome", "failure",
					"request_id", requestIDFromContext(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
				)
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Write(payload []byte) (int, error) {
	if r.statusCode == 0 {
		r.statusCode = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(payload)
	r.bytes += n
	return n, err
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		statusCode := recorder.statusCode
		if statusCode == 0 {
			statusCode = http.StatusOK
		}
		outcome := "success"
		if statusCode >= 400 {
			outcome = "failure"
		}

		fields := []any{
			"operation", "http_request",
			"outcome", outcome,
			"method", r.Method,
			"path", r.URL.Path,
			"status_code", statusCode,
			"bytes", recorder.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestIDFromContext(r.Context()),
		}
		switch {
		case statusCode >= 500:
			httpLogger().ErrorContext(r.Context(), "http request completed", fields...)
		case statusCode >= 400:
			httpLogger().WarnContext(r.Context(), "http request completed", fields...)
		default:
			httpLogger().InfoContext(r.Context(), "http request completed", fields...)
		}
	})
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerTokenFromHeader(r.Header.Get("Authorization"))
		if err != nil {
			writeMissingBearerError(r.Context(), w, "authenticate")
			return
		}
		claims, err := h.tokens.Verify(raw)
		if err != nil {
			logHTTPOperationError(r.Context(), "authenticate", http.StatusUnauthorized, "UNAUTHORIZED", "invalid token", err)
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFromContext(ctx context.Context) string {
	v := ctx.Value(ctxKeyRequestID)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func claimsFromContext(ctx context.Context) (ports.AuthClaims, bool) {
	claims, ok := ctx.Value(ctxKeyClaims).(ports.AuthClaims)
	return claims, ok
}

// actorFromRequest turns verified claims into the engine's caller identity.
func actorFromRequest(r *http.Request) application.Actor {
	claims, _ := claimsFromContext(r.Context())
	return application.Actor{
		SubjectID:      claims.SubjectID,
		Role:           claims.Role,
		RequestID:      requestIDFromContext(r.Context()),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}
}

func bearerTokenFromHeader(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("missing bearer token")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidTierConfig):
		return http.StatusBadRequest, "INVALID_TIER_CONFIG", err.Error()
	case errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest, "INVALID_AMOUNT", err.Error()
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidEnvelope), errors.Is(err, domain.ErrUnsupportedEvent):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing credentials"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "caller may not perform this operation"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return http.StatusConflict, "IDEMPOTENCY_CONFLICT", err.Error()
	case errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict, "VERSION_CONFLICT", "ledger changed concurrently; retry"
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicateEvent):
		return http.StatusConflict, "CONFLICT", err.Error()
	case errors.Is(err, domain.ErrInvalidMilestoneTransition):
		return http.StatusConflict, "INVALID_MILESTONE_TRANSITION", err.Error()
	case errors.Is(err, domain.ErrInsufficientEscrow):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_ESCROW", err.Error()
	case errors.Is(err, domain.ErrOverAllocation):
		return http.StatusUnprocessableEntity, "OVER_ALLOCATION", err.Error()
	case errors.Is(err, domain.ErrMilestoneOverCommitted):
		return http.StatusUnprocessableEntity, "MILESTONE_OVER_COMMITTED", err.Error()
	case errors.Is(err, domain.ErrCollateralBreach):
		return http.StatusUnprocessableEntity, "COLLATERAL_BREACH", err.Error()
	case errors.Is(err, domain.ErrUndefinedRatio):
		return http.StatusUnprocessableEntity, "UNDEFINED_RATIO", err.Error()
	case errors.Is(err, domain.ErrOracleUnavailable):
		return http.StatusServiceUnavailable, "ORACLE_UNAVAILABLE", err.Error()
	case errors.Is(err, domain.ErrVerificationTimeout):
		return http.StatusGatewayTimeout, "VERIFICATION_TIMEOUT", err.Error()
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}
