package subscription

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type fakeChecker struct {
	members map[int64]map[int64]bool // channel -> user -> member
	errOn   int64
}

func (f *fakeChecker) IsMember(channelID, userID int64) (bool, error) {
	if channelID == f.errOn {
		return false, errors.New("chat not found")
	}
	return f.members[channelID][userID], nil
}

func TestLoadChannels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.yml")
	content := `channels:
  - id: -1001111
    name: Visage News
    invite_url: https://t.me/+abc
  - id: -1002222
    name: Visage Chat
    invite_url: https://t.me/+def
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	channels, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(channels))
	}
	if channels[0].ID != -1001111 || channels[0].Name != "Visage News" {
		t.Errorf("unexpected first channel: %+v", channels[0])
	}
}

func TestLoadEmptyPathDisables(t *testing.T) {
	channels, err := Load("")
	if err != nil || channels != nil {
		t.Fatalf("empty path must disable the gate, got %v / %v", channels, err)
	}
	if NewGate(channels, &fakeChecker{}).Enabled() {
		t.Error("gate with no channels must be disabled")
	}
}

func TestLoadRejectsMissingID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.yml")
	if err := os.WriteFile(path, []byte("channels:\n  - name: nameless\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for channel without id")
	}
}

func TestGateMissing(t *testing.T) {
	checker := &fakeChecker{members: map[int64]map[int64]bool{
		-100: {7: true},
		-200: {},
	}}
	gate := NewGate([]Channel{{ID: -100, Name: "A"}, {ID: -200, Name: "B"}}, checker)

	missing := gate.Missing(7)
	if len(missing) != 1 || missing[0].ID != -200 {
		t.Fatalf("expected only -200 missing, got %+v", missing)
	}
}

func TestGateFailsOpenOnCheckerError(t *testing.T) {
	checker := &fakeChecker{errOn: -100}
	gate := NewGate([]Channel{{ID: -100, Name: "A"}}, checker)

	if missing := gate.Missing(7); len(missing) != 0 {
		t.Fatalf("lookup failure must not block the user, got %+v", missing)
	}
}
