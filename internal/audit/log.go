package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"eostre.org/internal/auth"
	"eostre.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and session context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	zf := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", event),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		zf = append(zf, zap.String("request_id", rid))
	}
	if claims, ok := auth.ClaimsFromContext(ctx); ok {
		zf = append(zf, zap.String("user_id", claims.Subject), zap.String("account_id", claims.AccountID))
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	zf = append(zf, zap.Any("fields", copyFields))

	obs.Named("audit").Info("audit event", zf...)
	return nil
}

// Recorder logs audit events and, when a store is configured, persists them
// to the user's event history.
type Recorder struct {
	store auth.EventStore
	now   func() time.Time
}

// NewRecorder returns a recorder. A nil store only logs.
func NewRecorder(store auth.EventStore) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Record logs event and appends it for userID. Persistence errors are logged,
// never returned, so auditing cannot fail a request that already succeeded.
func (r *Recorder) Record(ctx context.Context, userID, event, description string, fields map[string]any) {
	if err := LogEvent(ctx, event, fields); err != nil {
		obs.From(ctx).Warn("audit event dropped", zap.Error(err))
		return
	}
	if r == nil || r.store == nil || userID == "" {
		return
	}
	data := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		data[k] = v
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		data["request_id"] = rid
	}
	err := r.store.AppendEvent(ctx, auth.Event{
		UserID:      userID,
		Type:        event,
		Description: description,
		Data:        data,
		CreatedAt:   r.now().UTC(),
	})
	if err != nil {
		obs.From(ctx).Warn("persist audit event", zap.String("event", event), zap.Error(err))
	}
}
