// devicesim connects one simulated sensor to /ws/devices, answers presence
// queries and streams readings that drift around a baseline.
package main

import (
	"context"
	"flag"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ahmetk3436/tidewatch/internal/liveness"
	"github.com/ahmetk3436/tidewatch/pkg/logger"
	"github.com/gorilla/websocket"
)

var baselines = map[string]float64{
	"ph":        7.2,
	"tds":       320,
	"turbidity": 1.5,
}

func main() {
	url := flag.String("url", getenv("TIDEWATCH_WS", "ws://localhost:8097/ws/devices"), "device websocket endpoint")
	id := flag.String("id", getenv("DEVICE_ID", "sim-1"), "device id")
	secret := flag.String("secret", os.Getenv("DEVICE_SECRET"), "device secret")
	interval := flag.Duration("interval", 10*time.Second, "reading interval")
	params := flag.String("params", "ph,tds,turbidity", "comma separated parameters to report")
	drift := flag.Float64("drift", 0.02, "max relative change per reading")
	silent := flag.Bool("silent", false, "ignore presence queries")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	log := logger.New(*level).With("device_id", *id)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	header := http.Header{}
	header.Set("X-Device-ID", *id)
	header.Set("X-Device-Secret", *secret)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, *url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		log.Fatal("Dial failed", "url", *url, "status", status, "error", err)
	}
	defer conn.Close()
	log.Info("Connected", "url", *url)

	var writeMu sync.Mutex
	send := func(msg liveness.Message) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(msg)
	}

	go func() {
		defer stop()
		for {
			var msg liveness.Message
			if err := conn.ReadJSON(&msg); err != nil {
				log.Warn("Connection closed", "error", err)
				return
			}
			switch msg.Type {
			case liveness.TypePresenceQuery:
				if *silent {
					continue
				}
				if err := send(liveness.Message{Type: liveness.TypePresenceResponse, RoundID: msg.RoundID}); err != nil {
					log.Warn("Presence response failed", "error", err)
				}
			case liveness.TypeError:
				log.Warn("Server rejected message", "message", msg.Message)
			}
		}
	}()

	current := map[string]float64{}
	for _, p := range strings.Split(*params, ",") {
		p = strings.TrimSpace(p)
		if base, ok := baselines[p]; ok {
			current[p] = base
		}
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			writeMu.Lock()
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			writeMu.Unlock()
			return
		case <-ticker.C:
			now := time.Now().UTC()
			for p, v := range current {
				v *= 1 + (rand.Float64()*2-1)*(*drift)
				current[p] = v
				value := v
				if err := send(liveness.Message{Type: liveness.TypeReading, Parameter: p, Value: &value, Timestamp: &now}); err != nil {
					log.Error("Reading send failed", "parameter", p, "error", err)
					return
				}
			}
			log.Debug("Readings sent", "count", len(current))
		}
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
