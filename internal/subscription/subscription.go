// Package subscription gates bot usage on membership in a configured
// set of channels. The channel list lives in a YAML file so operators
// can edit it without a rebuild.
package subscription

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bowerhall/visage/internal/logger"
)

// Channel is one required membership.
type Channel struct {
	ID        int64  `yaml:"id"`
	Name      string `yaml:"name"`
	InviteURL string `yaml:"invite_url"`
}

type channelsFile struct {
	Channels []Channel `yaml:"channels"`
}

// MemberChecker reports whether a user belongs to a channel. The bot
// implements this over the chat-member API.
type MemberChecker interface {
	IsMember(channelID, userID int64) (bool, error)
}

// Gate checks required memberships before expensive commands run.
type Gate struct {
	channels []Channel
	checker  MemberChecker
}

// Load reads the channel list. An empty path disables the gate.
func Load(path string) ([]Channel, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read channels file: %w", err)
	}

	var f channelsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse channels file: %w", err)
	}

	for i, ch := range f.Channels {
		if ch.ID == 0 {
			return nil, fmt.Errorf("channels file: entry %d has no id", i)
		}
	}

	return f.Channels, nil
}

func NewGate(channels []Channel, checker MemberChecker) *Gate {
	return &Gate{channels: channels, checker: checker}
}

// Enabled reports whether any membership is required at all.
func (g *Gate) Enabled() bool {
	return len(g.channels) > 0
}

// Missing returns the channels the user has not joined. Membership
// lookups that fail count as joined: an API hiccup must not lock every
// user out.
func (g *Gate) Missing(userID int64) []Channel {
	var missing []Channel

	for _, ch := range g.channels {
		ok, err := g.checker.IsMember(ch.ID, userID)
		if err != nil {
			logger.Warn("membership check failed", "channel", ch.ID, "user", userID, "error", err)
			continue
		}
		if !ok {
			missing = append(missing, ch)
		}
	}

	return missing
}
