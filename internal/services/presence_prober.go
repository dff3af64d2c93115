package services

import (
	"context"
	"time"

	"github.com/ahmetk3436/tidewatch/pkg/logger"
	"github.com/google/uuid"
)

// PresenceLink is the transport a prober broadcasts over.
type PresenceLink interface {
	OpenRound(roundID string) (<-chan string, func())
	BroadcastQuery(ctx context.Context, roundID string) (int, error)
}

// PresenceProber runs one presence round at a time. It holds no state between
// rounds.
type PresenceProber struct {
	link PresenceLink
	log  logger.Logger
}

func NewPresenceProber(link PresenceLink, log logger.Logger) *PresenceProber {
	return &PresenceProber{link: link, log: log}
}

// Probe broadcasts a presence query and collects responders until every
// reached device answered or timeout elapses. A failed broadcast yields an
// empty set together with the error.
func (p *PresenceProber) Probe(ctx context.Context, timeout time.Duration) (map[string]struct{}, error) {
	roundID := uuid.NewString()
	responses, closeRound := p.link.OpenRound(roundID)
	defer closeRound()

	responded := make(map[string]struct{})

	reached, err := p.link.BroadcastQuery(ctx, roundID)
	if err != nil {
		p.log.Error("Presence broadcast failed", "round_id", roundID, "error", err)
		return responded, err
	}
	if reached == 0 {
		return responded, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for len(responded) < reached {
		select {
		case id := <-responses:
			responded[id] = struct{}{}
		case <-timer.C:
			p.log.Debug("Presence round timed out", "round_id", roundID, "reached", reached, "responded", len(responded))
			return responded, nil
		case <-ctx.Done():
			return responded, ctx.Err()
		}
	}
	return responded, nil
}
