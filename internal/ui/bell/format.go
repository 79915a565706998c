// Package bell renders the notification bell and its dropdown panel.
package bell

import (
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nhle/notifybell/internal/model"
)

// JustNow is shown for fresh, missing or unparsable timestamps.
const JustNow = "Just now"

// FormatBadge returns the badge text for an unread count: nothing at zero,
// the number up to nine and "9+" beyond.
func FormatBadge(count int) string {
	switch {
	case count <= 0:
		return ""
	case count < 10:
		return strconv.Itoa(count)
	default:
		return "9+"
	}
}

// IconFor returns the glyph shown next to a notification of type t.
func IconFor(t model.NotificationType) string {
	switch t {
	case model.TypeNewProposal:
		return "📝"
	case model.TypeContractCreated:
		return "📄"
	case model.TypeContractSigned:
		return "🤝"
	case model.TypeMilestoneSubmitted:
		return "📤"
	case model.TypeMilestoneApproved:
		return "✅"
	case model.TypeMilestoneFunded:
		return "💰"
	case model.TypePaymentReceived:
		return "💵"
	default:
		return "🔔"
	}
}

// RelativeTime describes when n was created relative to now.
func RelativeTime(n model.Notification, now time.Time) string {
	created, ok := n.Time()
	if !ok {
		return JustNow
	}
	if now.Sub(created) < time.Minute {
		return JustNow
	}
	return humanize.RelTime(created, now, "ago", "from now")
}
