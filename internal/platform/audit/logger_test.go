package audit

import (
	"context"
	"net/http/httptest"
	"testing"

	"suemybrother/internal/platform/database/dbtest"
)

func TestLogger_LogAndList(t *testing.T) {
	db := dbtest.New(t)
	l := NewLogger(db)
	ctx := context.Background()

	req := httptest.NewRequest("POST", "/admin/suits/s1/accept", nil)
	req.RemoteAddr = "10.0.0.1:4321"
	req.Header.Set("User-Agent", "test-agent")

	l.Log(ctx, req, "staff-1", ActionSuitAccepted, "suit", "s1", map[string]interface{}{"plaintiff": "Jane"})
	l.Log(ctx, nil, "", ActionSuitRejected, "suit", "s2", nil)

	logs, err := l.List(ctx, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(logs))
	}

	var accepted bool
	for _, e := range logs {
		if e.Action == ActionSuitAccepted {
			accepted = true
			if e.IPAddress != "10.0.0.1" || e.UserAgent != "test-agent" {
				t.Errorf("Unexpected request details: %s %s", e.IPAddress, e.UserAgent)
			}
			if e.ActorID == nil || *e.ActorID != "staff-1" {
				t.Errorf("Expected actor staff-1, got %v", e.ActorID)
			}
		}
		if e.Action == ActionSuitRejected && e.ActorID != nil {
			t.Errorf("Expected NULL actor, got %v", *e.ActorID)
		}
	}
	if !accepted {
		t.Error("accept entry missing")
	}
}
