package audit

import (
	"context"
	"log/slog"

	"aegis/pkg/requestcontext"
	"aegis/pkg/requesttime"
)

// Log is a shared helper for logging audit events across defense services.
// It logs to both the structured logger and the audit publisher if available.
// Attribute lists use the slog key-value convention.
func Log(ctx context.Context, logger *slog.Logger, publisher Publisher, event string, attrList ...any) {
	requestID := requestcontext.RequestID(ctx)

	// Add request ID for traceability
	if requestID != "" {
		attrList = append(attrList, "request_id", requestID)
	}

	args := append(attrList, "event", event, "log_type", "audit")

	if logger != nil {
		logger.InfoContext(ctx, event, args...)
	}

	if publisher == nil {
		return
	}

	// Extract subject from common identifier fields
	subject := extractString(attrList, "identifier")
	if subject == "" {
		subject = extractString(attrList, "ip")
	}
	if subject == "" {
		subject = extractString(attrList, "user_id")
	}

	if err := publisher.Emit(ctx, Event{
		Timestamp: requesttime.Now(ctx),
		Subject:   subject,
		UserID:    extractString(attrList, "user_id"),
		Action:    event,
		Reason:    extractString(attrList, "reason"),
		RequestID: requestID,
	}); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", event, "error", err)
	}
}

// extractString finds the string value following the given key in a
// slog-style key-value attribute list.
func extractString(attrs []any, key string) string {
	for i := 0; i+1 < len(attrs); i += 2 {
		k, ok := attrs[i].(string)
		if !ok || k != key {
			continue
		}
		if v, ok := attrs[i+1].(string); ok {
			return v
		}
	}
	return ""
}
