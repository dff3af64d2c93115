package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ahmetk3436/tidewatch/internal/models"
	"github.com/ahmetk3436/tidewatch/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeLink answers a round with the configured responders after delay.
type fakeLink struct {
	reached    int
	responders []string
	delay      time.Duration
	err        error
}

func (f *fakeLink) OpenRound(string) (<-chan string, func()) {
	ch := make(chan string, len(f.responders))
	go func() {
		time.Sleep(f.delay)
		for _, id := range f.responders {
			ch <- id
		}
	}()
	return ch, func() {}
}

func (f *fakeLink) BroadcastQuery(context.Context, string) (int, error) {
	return f.reached, f.err
}

func TestProbe_CompletesEarlyWhenAllAnswer(t *testing.T) {
	p := NewPresenceProber(&fakeLink{reached: 2, responders: []string{"a", "b"}}, logger.Nop())

	start := time.Now()
	got, err := p.Probe(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Less(t, time.Since(start), time.Second)
}

func TestProbe_TimeoutReturnsPartialSet(t *testing.T) {
	p := NewPresenceProber(&fakeLink{reached: 3, responders: []string{"a"}}, logger.Nop())

	got, err := p.Probe(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"a": {}}, got)
}

func TestProbe_LateResponsesAreNotCounted(t *testing.T) {
	p := NewPresenceProber(&fakeLink{reached: 1, responders: []string{"a"}, delay: 200 * time.Millisecond}, logger.Nop())

	got, err := p.Probe(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestProbe_BroadcastFailureYieldsEmptySet(t *testing.T) {
	p := NewPresenceProber(&fakeLink{err: errors.New("link down")}, logger.Nop())

	got, err := p.Probe(context.Background(), time.Second)
	assert.Error(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func seedDevices(t *testing.T, db *gorm.DB, statuses map[string]models.DeviceStatus) {
	t.Helper()
	for id, st := range statuses {
		require.NoError(t, db.Create(&models.Device{ID: id, Name: id, Status: st}).Error)
	}
}

func deviceStatus(t *testing.T, db *gorm.DB, id string) models.Device {
	t.Helper()
	var d models.Device
	require.NoError(t, db.First(&d, "id = ?", id).Error)
	return d
}

func set(ids ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func TestApply_MarksRespondersOnlineAndOthersOffline(t *testing.T) {
	db := newTestDB(t)
	seedDevices(t, db, map[string]models.DeviceStatus{
		"a": models.DeviceStatusOffline,
		"b": models.DeviceStatusOnline,
		"c": models.DeviceStatusOnline,
	})
	sm := NewPresenceStateMachine(db, false, logger.Nop())

	res, err := sm.Apply(context.Background(), set("a", "b"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, res.MarkedOnline)
	assert.ElementsMatch(t, []string{"c"}, res.MarkedOffline)

	a := deviceStatus(t, db, "a")
	assert.Equal(t, models.DeviceStatusOnline, a.Status)
	require.NotNil(t, a.LastSeen)
	assert.Equal(t, models.DeviceStatusOffline, deviceStatus(t, db, "c").Status)
}

func TestApply_EmptySetMarksAllOnlineOffline(t *testing.T) {
	db := newTestDB(t)
	seedDevices(t, db, map[string]models.DeviceStatus{
		"a": models.DeviceStatusOnline,
		"b": models.DeviceStatusOnline,
		"m": models.DeviceStatusMaintenance,
	})
	sm := NewPresenceStateMachine(db, false, logger.Nop())

	res, err := sm.Apply(context.Background(), set())
	require.NoError(t, err)
	assert.Empty(t, res.MarkedOnline)
	assert.ElementsMatch(t, []string{"a", "b"}, res.MarkedOffline)
	assert.Equal(t, models.DeviceStatusMaintenance, deviceStatus(t, db, "m").Status)
}

func TestApply_AdminStatusOverride(t *testing.T) {
	db := newTestDB(t)
	seedDevices(t, db, map[string]models.DeviceStatus{
		"e": models.DeviceStatusError,
		"m": models.DeviceStatusMaintenance,
	})

	held := NewPresenceStateMachine(db, false, logger.Nop())
	res, err := held.Apply(context.Background(), set("e", "m"))
	require.NoError(t, err)
	assert.Empty(t, res.MarkedOnline)
	assert.Equal(t, models.DeviceStatusError, deviceStatus(t, db, "e").Status)
	assert.NotNil(t, deviceStatus(t, db, "e").LastSeen)

	override := NewPresenceStateMachine(db, true, logger.Nop())
	res, err = override.Apply(context.Background(), set("e", "m"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"e", "m"}, res.MarkedOnline)
	assert.Equal(t, models.DeviceStatusOnline, deviceStatus(t, db, "m").Status)
}

func TestApply_UnknownRespondersAreIgnored(t *testing.T) {
	db := newTestDB(t)
	seedDevices(t, db, map[string]models.DeviceStatus{"a": models.DeviceStatusOffline})
	sm := NewPresenceStateMachine(db, false, logger.Nop())

	res, err := sm.Apply(context.Background(), set("a", "ghost"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.MarkedOnline)

	var count int64
	db.Model(&models.Device{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestStaleDevices(t *testing.T) {
	db := newTestDB(t)
	old := time.Now().Add(-time.Hour)
	recent := time.Now()
	require.NoError(t, db.Create(&models.Device{ID: "old", Status: models.DeviceStatusOnline, LastSeen: &old}).Error)
	require.NoError(t, db.Create(&models.Device{ID: "new", Status: models.DeviceStatusOnline, LastSeen: &recent}).Error)

	sm := NewPresenceStateMachine(db, false, logger.Nop())
	stale, err := sm.StaleDevices(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].ID)
}
