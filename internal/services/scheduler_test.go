package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ahmetk3436/tidewatch/internal/models"
	"github.com/ahmetk3436/tidewatch/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func every(d time.Duration) func() time.Duration {
	return func() time.Duration { return d }
}

func TestScheduler_StartStop(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler(logger.Nop(), Task{
		Name:     "tick",
		Interval: every(10 * time.Millisecond),
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	assert.False(t, s.IsRunning())
	s.Start(context.Background())
	s.Start(context.Background())
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	after := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, runs.Load())

	s.Stop()
}

func TestScheduler_DropsOverlappingTicks(t *testing.T) {
	var (
		started    atomic.Int32
		concurrent atomic.Int32
		maxSeen    atomic.Int32
	)
	s := NewScheduler(logger.Nop(), Task{
		Name:     "slow",
		Interval: every(5 * time.Millisecond),
		Run: func(ctx context.Context) error {
			started.Add(1)
			n := concurrent.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			defer concurrent.Add(-1)
			select {
			case <-time.After(60 * time.Millisecond):
			case <-ctx.Done():
			}
			return nil
		},
	})

	s.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(1), maxSeen.Load())
	assert.LessOrEqual(t, started.Load(), int32(4))
}

func TestScheduler_RecoversFromPanicsAndErrors(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler(logger.Nop(),
		Task{
			Name:     "panics",
			Interval: every(5 * time.Millisecond),
			Run: func(context.Context) error {
				runs.Add(1)
				panic("boom")
			},
		},
		Task{
			Name:     "fails",
			Interval: every(5 * time.Millisecond),
			Run: func(context.Context) error {
				return errors.New("transient")
			},
		},
	)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestScheduler_IntervalIsReadEveryTick(t *testing.T) {
	var (
		interval atomic.Int64
		runs     atomic.Int32
	)
	interval.Store(int64(time.Hour))

	s := NewScheduler(logger.Nop(), Task{
		Name:       "presence",
		Interval:   func() time.Duration { return time.Duration(interval.Load()) },
		RunOnStart: true,
		Run: func(context.Context) error {
			runs.Add(1)
			interval.Store(int64(5 * time.Millisecond))
			return nil
		},
	})

	s.Start(context.Background())
	defer s.Stop()

	// The first wait was computed before the run shortened the interval.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestPresenceTask_AppliesEmptySetOnBroadcastFailure(t *testing.T) {
	db := newTestDB(t)
	seedDevices(t, db, map[string]models.DeviceStatus{"a": models.DeviceStatusOnline})

	prober := NewPresenceProber(&fakeLink{err: errors.New("link down")}, logger.Nop())
	sm := NewPresenceStateMachine(db, false, logger.Nop())
	task := PresenceTask(prober, sm, every(time.Minute), 10*time.Millisecond, logger.Nop())

	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, models.DeviceStatusOffline, deviceStatus(t, db, "a").Status)
}

func TestRetention_PurgeOlderThan(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	for _, age := range []time.Duration{time.Hour, 89 * 24 * time.Hour, 91 * 24 * time.Hour, 200 * 24 * time.Hour} {
		require.NoError(t, db.Create(&models.SensorReading{
			DeviceID: "dev-1", Parameter: models.ParameterPH, Value: 7, Timestamp: now.Add(-age),
		}).Error)
	}

	r := NewRetention(db, logger.Nop())
	deleted, err := r.PurgeOlderThan(context.Background(), DefaultRetention)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	var left int64
	db.Model(&models.SensorReading{}).Count(&left)
	assert.Equal(t, int64(2), left)

	task := CleanupTask(r, DefaultRetention)
	assert.Equal(t, 24*time.Hour, task.Interval())
	require.NoError(t, task.Run(context.Background()))
}
