// Package dispatch decides whether a due schedule should produce a
// notification and delivers it over the user's enabled channels.
package dispatch

import (
	"time"

	"github.com/gabri3lsal3s/ikgaihub/internal/db"
	"github.com/gabri3lsal3s/ikgaihub/internal/quiethours"
)

// Channel is a delivery surface.
type Channel string

const (
	ChannelPush  Channel = db.NotificationPush
	ChannelEmail Channel = db.NotificationEmail
	ChannelInApp Channel = db.NotificationInApp
)

// Reason explains a suppressed decision.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonInactive              Reason = "inactive"
	ReasonNotificationsDisabled Reason = "notifications_disabled"
	ReasonQuietHours            Reason = "quiet_hours"
	ReasonNoChannel             Reason = "no_channel"
)

// Decision is the outcome of the dispatch policy for one reminder at one instant.
type Decision struct {
	Send     bool
	Reason   Reason
	Channels []Channel
}

// Retryable reports whether a suppressed schedule may still be delivered
// later. Only quiet hours pass on their own.
func (d Decision) Retryable() bool {
	return !d.Send && d.Reason == ReasonQuietHours
}

// Decide applies the dispatch policy. now is converted into the settings
// timezone before the quiet-hours check.
func Decide(rem db.Reminder, settings db.NotificationSettings, now time.Time) Decision {
	if !rem.IsActive {
		return Decision{Reason: ReasonInactive}
	}
	if !rem.NotificationEnabled {
		return Decision{Reason: ReasonNotificationsDisabled}
	}
	if quiethours.IsQuietHours(settings, now.In(settings.Location())) {
		return Decision{Reason: ReasonQuietHours}
	}

	channels := EnabledChannels(settings)
	if len(channels) == 0 {
		return Decision{Reason: ReasonNoChannel}
	}

	return Decision{Send: true, Channels: channels}
}

// EnabledChannels lists the schedule channels a user has switched on.
// Email additionally needs an address.
func EnabledChannels(settings db.NotificationSettings) []Channel {
	var channels []Channel
	if settings.PushEnabled {
		channels = append(channels, ChannelPush)
	}
	if settings.EmailEnabled && settings.EmailAddress != nil && *settings.EmailAddress != "" {
		channels = append(channels, ChannelEmail)
	}
	return channels
}
