package model

import (
	"strings"
	"time"
)

// NotificationType is the event category that produced a notification.
// It drives icon selection in the bell panel.
type NotificationType string

const (
	TypeNewProposal        NotificationType = "new_proposal"
	TypeContractCreated    NotificationType = "contract_created"
	TypeContractSigned     NotificationType = "contract_signed"
	TypeMilestoneSubmitted NotificationType = "milestone_submitted"
	TypeMilestoneApproved  NotificationType = "milestone_approved"
	TypeMilestoneFunded    NotificationType = "milestone_funded"
	TypePaymentReceived    NotificationType = "payment_received"
)

// Known reports whether t is one of the categories the client has an icon for.
func (t NotificationType) Known() bool {
	switch t {
	case TypeNewProposal, TypeContractCreated, TypeContractSigned,
		TypeMilestoneSubmitted, TypeMilestoneApproved, TypeMilestoneFunded,
		TypePaymentReceived:
		return true
	}
	return false
}

// Notification is a single event delivered to the signed-in user, either by
// the snapshot endpoint or by the live channel.
type Notification struct {
	// ID is stable across snapshot and live delivery.
	ID string `json:"id"`

	Type    NotificationType `json:"type"`
	Title   string           `json:"title"`
	Message string           `json:"message"`

	// Link is a relative path opened when the notification is activated.
	Link string `json:"link,omitempty"`

	// CreatedAt is kept as sent by the server. Use Time to parse it.
	CreatedAt string `json:"created_at"`

	Read bool `json:"read"`
}

// timeLayouts are tried in order when parsing CreatedAt.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
}

// Time parses CreatedAt. ok is false when the field is empty or unparsable.
func (n Notification) Time() (t time.Time, ok bool) {
	raw := strings.TrimSpace(n.CreatedAt)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// Snapshot is the initial page of notifications plus the server-side unread
// count, as returned by the snapshot endpoint.
type Snapshot struct {
	Notifications []Notification
	UnreadCount   int
}

// ConnectionState is the lifecycle state of the live channel.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}
