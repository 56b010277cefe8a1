package models

import (
	"fmt"
	"strings"
)

// Channel is an outbound delivery channel.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
	ChannelVoice    Channel = "voice"
	ChannelPush     Channel = "push"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelWebhook  Channel = "webhook"
)

// AllChannels lists every supported channel.
var AllChannels = []Channel{ChannelSMS, ChannelEmail, ChannelVoice, ChannelPush, ChannelWhatsApp, ChannelWebhook}

func (c Channel) Valid() bool {
	for _, known := range AllChannels {
		if c == known {
			return true
		}
	}
	return false
}

func (c Channel) String() string {
	return string(c)
}

// ParseChannel normalizes and validates a channel name.
func ParseChannel(raw string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", fmt.Errorf("invalid channel %q", raw)
	}
	return c, nil
}

// ChannelStrings converts channels to their string form (for text[] columns).
func ChannelStrings(channels []Channel) []string {
	out := make([]string, len(channels))
	for i, c := range channels {
		out[i] = string(c)
	}
	return out
}
