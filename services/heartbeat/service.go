package heartbeat

import (
	"context"
	"time"

	"accelcode-go/bus"
	"accelcode-go/types"
	"accelcode-go/x/timex"
)

var (
	topicConfigHeartbeat = bus.Topic{"config", "heartbeat"}
	topicHeartbeat       = bus.Topic{"hal", "heartbeat"}
)

const defaultInterval = 2 * time.Second

type Service struct{}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	tick := time.NewTicker(defaultInterval)
	defer tick.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			seq++
			conn.Publish(conn.NewMessage(topicHeartbeat,
				types.Heartbeat{Seq: seq, TS: timex.NowNs()}, true))
		case msg := <-cfgSub.Channel():
			if iv, ok := intervalFrom(msg.Payload); ok {
				tick.Reset(iv)
			}
		}
	}
}

// intervalFrom pulls the "interval" key (seconds) out of a config document.
// The JSON layer may hand the number over in several shapes.
func intervalFrom(payload any) (time.Duration, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return 0, false
	}
	var secs float64
	switch v := m["interval"].(type) {
	case float64:
		secs = v
	case int:
		secs = float64(v)
	case int64:
		secs = float64(v)
	default:
		return 0, false
	}
	if secs <= 0 {
		return 0, false
	}
	d := time.Duration(secs * float64(time.Second))
	return timex.ClampDuration(d, 250*time.Millisecond, time.Hour), true
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
