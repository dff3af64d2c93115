// Package liveness keeps the websocket links to field devices and dashboard
// sessions. Devices answer presence queries and stream readings over the same
// link; dashboards only receive pushes.
package liveness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ahmetk3436/tidewatch/internal/metrics"
	"github.com/ahmetk3436/tidewatch/internal/models"
	"github.com/ahmetk3436/tidewatch/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var ErrBroadcastFailed = errors.New("presence query reached no device")

// Conn is the subset of a websocket connection the hub needs. Both the fiber
// contrib connection and a gorilla client connection satisfy it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// ReadingHandler receives readings streamed by an authenticated device.
type ReadingHandler func(ctx context.Context, r models.SensorReading) error

type session struct {
	id   string
	conn Conn

	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

func newSession(id string, conn Conn) *session {
	return &session{id: id, conn: conn, closed: make(chan struct{})}
}

func (s *session) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

func (s *session) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}

type HubOptions struct {
	// Concurrency bounds the number of simultaneous writes during a broadcast.
	Concurrency int
	OnReading   ReadingHandler
}

type Hub struct {
	log         logger.Logger
	concurrency int
	onReading   ReadingHandler

	mu         sync.RWMutex
	devices    map[string]*session
	dashboards map[string]map[*session]struct{}

	roundsMu sync.Mutex
	rounds   map[string]chan string
}

func NewHub(log logger.Logger, opts HubOptions) *Hub {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 32
	}
	return &Hub{
		log:         log,
		concurrency: opts.Concurrency,
		onReading:   opts.OnReading,
		devices:     make(map[string]*session),
		dashboards:  make(map[string]map[*session]struct{}),
		rounds:      make(map[string]chan string),
	}
}

// ConnectedDevices returns the ids of devices with a live link.
func (h *Hub) ConnectedDevices() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.devices))
	for id := range h.devices {
		ids = append(ids, id)
	}
	return ids
}

// ServeDevice runs the read loop for an authenticated device and blocks until
// the link drops. A second link for the same device replaces the first.
func (h *Hub) ServeDevice(ctx context.Context, deviceID string, conn Conn) {
	s := newSession(deviceID, conn)

	h.mu.Lock()
	prev := h.devices[deviceID]
	h.devices[deviceID] = s
	h.mu.Unlock()
	if prev != nil {
		prev.close()
	} else {
		metrics.LivenessConnections.WithLabelValues("device").Inc()
	}
	h.log.Info("Device connected", "device_id", deviceID)

	defer func() {
		h.mu.Lock()
		if h.devices[deviceID] == s {
			delete(h.devices, deviceID)
			metrics.LivenessConnections.WithLabelValues("device").Dec()
		}
		h.mu.Unlock()
		s.close()
		h.log.Info("Device disconnected", "device_id", deviceID)
	}()

	go s.pingLoop()
	h.readLoop(s, func(msg Message) {
		switch msg.Type {
		case TypePresenceResponse:
			h.deliverResponse(msg.RoundID, deviceID)
		case TypeReading:
			h.handleReading(ctx, s, msg)
		default:
			h.log.Debug("Ignoring device message", "device_id", deviceID, "type", msg.Type)
		}
	})
}

// ServeDashboard registers a push-only session for userID and blocks until the
// link drops.
func (h *Hub) ServeDashboard(userID string, conn Conn) {
	s := newSession(userID, conn)

	h.mu.Lock()
	if h.dashboards[userID] == nil {
		h.dashboards[userID] = make(map[*session]struct{})
	}
	h.dashboards[userID][s] = struct{}{}
	h.mu.Unlock()
	metrics.LivenessConnections.WithLabelValues("dashboard").Inc()

	defer func() {
		h.mu.Lock()
		delete(h.dashboards[userID], s)
		if len(h.dashboards[userID]) == 0 {
			delete(h.dashboards, userID)
		}
		h.mu.Unlock()
		metrics.LivenessConnections.WithLabelValues("dashboard").Dec()
		s.close()
	}()

	go s.pingLoop()
	h.readLoop(s, func(Message) {})
}

func (h *Hub) readLoop(s *session, handle func(Message)) {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			h.log.Debug("Websocket read ended", "session", s.id, "error", err)
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.log.Warn("Malformed websocket message", "session", s.id, "error", err)
			continue
		}
		handle(msg)
	}
}

func (h *Hub) handleReading(ctx context.Context, s *session, msg Message) {
	if h.onReading == nil {
		return
	}
	if msg.Value == nil {
		h.sendError(s, "reading without value")
		return
	}
	r := models.SensorReading{
		DeviceID:  s.id,
		Parameter: models.Parameter(msg.Parameter),
		Value:     *msg.Value,
	}
	if msg.Timestamp != nil {
		r.Timestamp = *msg.Timestamp
	}
	if err := h.onReading(ctx, r); err != nil {
		h.log.Warn("Reading rejected", "device_id", s.id, "parameter", msg.Parameter, "error", err)
		h.sendError(s, err.Error())
	}
}

func (h *Hub) sendError(s *session, text string) {
	b, _ := json.Marshal(Message{Type: TypeError, Message: text})
	if err := s.write(websocket.TextMessage, b); err != nil {
		s.close()
	}
}

// OpenRound registers a collector for roundID. Responses that arrive before
// the returned close func is called are delivered on the channel, one per
// response; duplicates are the caller's concern.
func (h *Hub) OpenRound(roundID string) (<-chan string, func()) {
	h.mu.RLock()
	size := len(h.devices) + 16
	h.mu.RUnlock()

	ch := make(chan string, size)
	h.roundsMu.Lock()
	h.rounds[roundID] = ch
	h.roundsMu.Unlock()

	return ch, func() {
		h.roundsMu.Lock()
		delete(h.rounds, roundID)
		h.roundsMu.Unlock()
	}
}

func (h *Hub) deliverResponse(roundID, deviceID string) {
	h.roundsMu.Lock()
	defer h.roundsMu.Unlock()
	ch, ok := h.rounds[roundID]
	if !ok {
		h.log.Debug("Late or unknown presence response", "device_id", deviceID, "round_id", roundID)
		return
	}
	select {
	case ch <- deviceID:
	default:
		h.log.Warn("Presence collector full, dropping response", "device_id", deviceID, "round_id", roundID)
	}
}

// BroadcastQuery sends a presence query to every connected device with at
// most Concurrency writes in flight. It returns the number of devices reached.
// When devices are connected but none could be written to, it returns
// ErrBroadcastFailed.
func (h *Hub) BroadcastQuery(ctx context.Context, roundID string) (int, error) {
	payload, err := json.Marshal(Message{Type: TypePresenceQuery, RoundID: roundID})
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	targets := make([]*session, 0, len(h.devices))
	for _, s := range h.devices {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return 0, nil
	}

	sem := make(chan struct{}, h.concurrency)
	var (
		wg      sync.WaitGroup
		countMu sync.Mutex
		sent    int
	)
	for _, s := range targets {
		select {
		case <-ctx.Done():
			wg.Wait()
			return sent, ctx.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(s *session) {
			defer func() {
				<-sem
				wg.Done()
			}()
			if err := s.write(websocket.TextMessage, payload); err != nil {
				h.log.Warn("Presence query write failed", "device_id", s.id, "error", err)
				s.close()
				return
			}
			countMu.Lock()
			sent++
			countMu.Unlock()
		}(s)
	}
	wg.Wait()

	if sent == 0 {
		return 0, fmt.Errorf("%w: %d connected", ErrBroadcastFailed, len(targets))
	}
	return sent, nil
}

// PushToUser sends payload to every dashboard session of userID and returns
// how many sessions received it.
func (h *Hub) PushToUser(userID string, payload interface{}) int {
	b, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("Failed to marshal dashboard payload", "user_id", userID, "error", err)
		return 0
	}

	h.mu.RLock()
	targets := make([]*session, 0, len(h.dashboards[userID]))
	for s := range h.dashboards[userID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	n := 0
	for _, s := range targets {
		if err := s.write(websocket.TextMessage, b); err != nil {
			s.close()
			continue
		}
		n++
	}
	return n
}
