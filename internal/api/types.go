package api

import "github.com/nhle/notifybell/internal/model"

// REST paths. All of them require a bearer token.
const (
	PathNotifications = "/api/ws/notifications"
	PathMarkRead      = "/api/ws/notifications/{id}/read"
	PathMarkAllRead   = "/api/ws/notifications/read-all"
)

// SnapshotResponse is the body of GET /api/ws/notifications.
type SnapshotResponse struct {
	Success       bool                 `json:"success"`
	Notifications []model.Notification `json:"notifications"`
	UnreadCount   int                  `json:"unread_count"`
	Message       string               `json:"message,omitempty"`
}
