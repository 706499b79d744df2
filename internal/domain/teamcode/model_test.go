package teamcode

import (
	"testing"
	"time"
)

func TestTeamCode_Usable(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name string
		code TeamCode
		want bool
	}{
		{name: "active without expiry", code: TeamCode{Status: StatusActive}, want: true},
		{name: "active before expiry", code: TeamCode{Status: StatusActive, ExpirationDate: &future}, want: true},
		{name: "active after expiry", code: TeamCode{Status: StatusActive, ExpirationDate: &past}, want: false},
		{name: "expired", code: TeamCode{Status: StatusExpired}, want: false},
		{name: "used", code: TeamCode{Status: StatusUsed}, want: false},
	}

	for _, tc := range cases {
		if got := tc.code.Usable(now); got != tc.want {
			t.Fatalf("%s: got %t want %t", tc.name, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize(" ab3xyz "); got != "AB3XYZ" {
		t.Fatalf("unexpected normalized code %q", got)
	}
}
