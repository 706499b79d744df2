package httpapi

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var apiTracer = otel.Tracer("teamsync/internal/interfaces/httpapi")
var noopSpan = trace.SpanFromContext(context.Background())

// routeAttributes maps path wildcards to the span attribute naming the record.
var routeAttributes = []struct {
	wildcard string
	key      attribute.Key
}{
	{wildcard: "teamID", key: "teamsync.team_id"},
	{wildcard: "matchID", key: "teamsync.match_id"},
	{wildcard: "tournamentID", key: "teamsync.tournament_id"},
	{wildcard: "id", key: "teamsync.dead_letter_id"},
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	parent := trace.SpanFromContext(ctx)
	if !parent.SpanContext().IsValid() {
		// untraced request, e.g. /healthz
		return ctx, noopSpan
	}
	if !shouldCreateHTTPAPISpan(name) {
		return ctx, noopSpan
	}
	return apiTracer.Start(ctx, name)
}

// startHandlerSpan opens the handler span tagged with the records and user the
// request touches.
func startHandlerSpan(r *http.Request, name string) (context.Context, trace.Span) {
	ctx, span := startSpan(r.Context(), name)
	if span.IsRecording() {
		span.SetAttributes(requestAttributes(r)...)
	}
	return ctx, span
}

func requestAttributes(r *http.Request) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for _, ra := range routeAttributes {
		if v := strings.TrimSpace(r.PathValue(ra.wildcard)); v != "" {
			attrs = append(attrs, ra.key.String(v))
		}
	}
	if userID, ok := userIDFromContext(r.Context()); ok {
		attrs = append(attrs, attribute.String("enduser.id", userID))
	}
	return attrs
}

func shouldCreateHTTPAPISpan(name string) bool {
	return strings.HasPrefix(name, "httpapi.Handler.")
}
