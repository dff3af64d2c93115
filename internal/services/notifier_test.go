package services

import (
	"context"
	"testing"

	"github.com/ahmetk3436/tidewatch/internal/liveness"
	"github.com/ahmetk3436/tidewatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPusher struct {
	pushed map[string]int
	types  []interface{}
}

func (p *countingPusher) PushToUser(userID string, payload interface{}) int {
	if p.pushed == nil {
		p.pushed = map[string]int{}
	}
	p.pushed[userID]++
	if m, ok := payload.(map[string]interface{}); ok {
		p.types = append(p.types, m["type"])
	}
	return 1
}

func TestInboxNotifier(t *testing.T) {
	db := newTestDB(t)
	pusher := &countingPusher{}
	n := NewInboxNotifier(db, pusher)
	ctx := context.Background()

	a := phAlert(models.SeverityCritical)
	a.Message = "ph 9.50 breached critical limit 9.00"
	require.NoError(t, n.Notify(ctx, "u1", a))
	require.NoError(t, n.Notify(ctx, "u1", phAlert(models.SeverityWarning)))
	require.NoError(t, n.Notify(ctx, "u2", a))

	assert.Equal(t, 2, pusher.pushed["u1"])
	require.Len(t, pusher.types, 3)
	for _, typ := range pusher.types {
		assert.Equal(t, liveness.TypeNotification, typ)
	}

	inbox, err := ListNotifications(ctx, db, "u1", false, 0)
	require.NoError(t, err)
	require.Len(t, inbox, 2)

	ok, err := MarkNotificationRead(ctx, db, "u1", inbox[0].ID.String())
	require.NoError(t, err)
	assert.True(t, ok)

	// Another user's notification cannot be marked.
	ok, err = MarkNotificationRead(ctx, db, "u2", inbox[1].ID.String())
	require.NoError(t, err)
	assert.False(t, ok)

	unread, err := ListNotifications(ctx, db, "u1", true, 0)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, inbox[1].ID, unread[0].ID)
}
