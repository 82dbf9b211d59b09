package alerts

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestAlertCooldown(t *testing.T) {
	var sent []string
	a := New(func(msg string) { sent = append(sent, msg) }, time.Hour)

	now := time.Unix(1000, 0)
	a.now = func() time.Time { return now }

	a.Warn("trainer", "poll failures", errors.New("connection reset"))
	a.Warn("trainer", "poll failures", errors.New("connection reset"))

	if len(sent) != 1 {
		t.Fatalf("duplicate inside cooldown must be suppressed, got %d sends", len(sent))
	}
	if !strings.Contains(sent[0], "trainer") || !strings.Contains(sent[0], "connection reset") {
		t.Errorf("unexpected alert text: %s", sent[0])
	}

	// a different key is independent
	a.Critical("storage", "unreachable", nil)
	if len(sent) != 2 {
		t.Fatalf("different component must not be suppressed, got %d", len(sent))
	}

	// after the cooldown the original key fires again
	now = now.Add(2 * time.Hour)
	a.Warn("trainer", "poll failures", nil)
	if len(sent) != 3 {
		t.Fatalf("alert after cooldown must send, got %d", len(sent))
	}
}
