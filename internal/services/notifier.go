package services

import (
	"context"
	"time"

	"github.com/ahmetk3436/tidewatch/internal/liveness"
	"github.com/ahmetk3436/tidewatch/internal/models"
	"gorm.io/gorm"
)

// DashboardPusher fans a payload out to a user's live dashboard sessions and
// reports how many received it.
type DashboardPusher interface {
	PushToUser(userID string, payload interface{}) int
}

// InboxNotifier stores each notification in the user's inbox and pushes it to
// any open dashboard session. A user without a live session still gets the
// inbox row.
type InboxNotifier struct {
	db     *gorm.DB
	pusher DashboardPusher
}

func NewInboxNotifier(db *gorm.DB, pusher DashboardPusher) *InboxNotifier {
	return &InboxNotifier{db: db, pusher: pusher}
}

func (n *InboxNotifier) Notify(ctx context.Context, userID string, a models.Alert) error {
	row := models.Notification{
		UserID:   userID,
		AlertID:  a.ID,
		Severity: a.Severity,
		Message:  a.Message,
	}
	if err := n.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	if n.pusher != nil {
		n.pusher.PushToUser(userID, map[string]interface{}{
			"type":         liveness.TypeNotification,
			"notification": row,
			"alert":        a,
		})
	}
	return nil
}

// ListNotifications returns a user's inbox, newest first.
func ListNotifications(ctx context.Context, db *gorm.DB, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("read_at IS NULL")
	}
	var out []models.Notification
	err := query.Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

// MarkNotificationRead stamps read_at on one of the user's notifications.
func MarkNotificationRead(ctx context.Context, db *gorm.DB, userID, id string) (bool, error) {
	res := db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND read_at IS NULL", id, userID).
		Update("read_at", time.Now())
	return res.RowsAffected > 0, res.Error
}
