package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestShouldCreateHTTPAPISpan(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{name: "handler span", in: "httpapi.Handler.GetSyncStatus", want: true},
		{name: "middleware span", in: "httpapi.RequestLogging", want: false},
		{name: "helper span", in: "httpapi.writeError", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := shouldCreateHTTPAPISpan(tt.in)
			if got != tt.want {
				t.Fatalf("shouldCreateHTTPAPISpan(%q)=%v want=%v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRequestAttributes(t *testing.T) {
	var got []attribute.KeyValue
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/teams/{teamID}/join-code", func(_ http.ResponseWriter, r *http.Request) {
		got = requestAttributes(r)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/teams/t-42/join-code", nil)
	req = req.WithContext(withUserID(req.Context(), "u-7"))
	mux.ServeHTTP(httptest.NewRecorder(), req)

	want := []attribute.KeyValue{
		attribute.String("teamsync.team_id", "t-42"),
		attribute.String("enduser.id", "u-7"),
	}
	if len(got) != len(want) {
		t.Fatalf("requestAttributes()=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("requestAttributes()[%d]=%v want=%v", i, got[i], want[i])
		}
	}
}
