// bridge/bridge.go
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"accelcode-go/bus"
	"accelcode-go/types"
	"accelcode-go/x/mathx"
	"accelcode-go/x/timex"
)

// Start runs the bridge service. It blocks until ctx is cancelled. It
// listens for JSON config on topic {"config","bridge"} and (re)configures
// the uplink.
func Start(ctx context.Context, conn *bus.Connection) {
	s := &Service{
		conn:       conn,
		stateTopic: bus.Topic{"bridge", "state"},
	}
	s.run(ctx)
}

// Config is the configuration expected on "config/bridge".
type Config struct {
	Enabled  bool   `json:"enabled"`
	Broker   string `json:"broker"` // e.g. "tcp://127.0.0.1:1883"
	ClientID string `json:"client_id,omitempty"`
	Prefix   string `json:"prefix"` // remote topic prefix
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Transport is the uplink the bridge drives. The paho implementation is
// the production one; tests substitute a fake through Dial.
type Transport interface {
	Connect(ctx context.Context) error
	Publish(topic string, payload []byte, retained bool) error
	SubscribeControl(filter string, h func(topic string, payload []byte)) error
	Close()
}

// Dial builds the transport for a config. Swappable for tests.
var Dial = func(cfg Config) Transport { return newPahoTransport(cfg) }

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic

	mu     sync.Mutex
	curRun context.CancelFunc
}

// run waits for config and supervises a single uplink instance.
func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.Topic{"config", "bridge"})
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			if !cfg.Enabled {
				s.stopCurrent()
				s.publishState("idle", "disabled", nil)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.mu.Lock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	go s.runLink(ctx, cfg)
}

// runLink owns one uplink: connect with capped backoff, forward until the
// link drops, repeat. It exits on ctx cancel.
func (s *Service) runLink(ctx context.Context, cfg Config) {
	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		tr := Dial(cfg)
		if err := tr.Connect(ctx); err != nil {
			tr.Close()
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		// Both directions are wired before the link is reported up.
		// Remote controls come down onto the local control topics; the
		// handler runs on the transport's goroutine, and Publish on the
		// local bus is safe from any goroutine.
		err := tr.SubscribeControl(cfg.Prefix+"/control/#", func(topic string, payload []byte) {
			lt, ok := localControlTopic(cfg.Prefix, topic)
			if !ok {
				return
			}
			var body any
			if len(payload) > 0 {
				if json.Unmarshal(payload, &body) != nil {
					return
				}
			}
			s.conn.Publish(s.conn.NewMessage(lt, body, false))
		})
		if err == nil {
			// One subscription covers capability traffic, hal state and
			// heartbeat.
			localSub := s.conn.Subscribe(bus.Topic{"hal", "#"})
			s.publishState("up", "link_established", nil)
			err = s.forward(ctx, cfg.Prefix, tr, localSub)
			s.conn.Unsubscribe(localSub)
		}
		tr.Close()
		if err == nil {
			// ctx cancelled; a new config starts a fresh run.
			return
		}
		delay := backoff()
		s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
		if !sleep(ctx, delay) {
			return
		}
	}
}

// forward pumps local hal traffic up. It returns nil on ctx cancel and the
// transport error on link loss.
func (s *Service) forward(ctx context.Context, prefix string, tr Transport, localSub *bus.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-localSub.Channel():
			if !ok {
				return nil
			}
			remote, ok := remoteTopic(prefix, msg.Topic)
			if !ok {
				continue
			}
			// A nil payload clears a retained slot; upstream that is an
			// empty publish, not the JSON null document.
			var body []byte
			if msg.Payload != nil {
				b, err := json.Marshal(msg.Payload)
				if err != nil {
					continue
				}
				body = b
			}
			if err := tr.Publish(remote, body, msg.Retained); err != nil {
				return err
			}
		}
	}
}

// remoteTopic maps a local topic to its uplink spelling.
// hal/capability/<kind>/<id>/<suffix> becomes <prefix>/<kind>/<id>/<suffix>;
// the remaining hal documents keep their path under <prefix>/hal/...
// Control topics never go up.
func remoteTopic(prefix string, t bus.Topic) (string, bool) {
	for _, tok := range t {
		if s, ok := tok.(string); ok && s == "control" {
			return "", false
		}
	}
	var b strings.Builder
	b.WriteString(prefix)
	start := 0
	if len(t) == 5 && t[0] == "hal" && t[1] == "capability" {
		start = 2
	}
	for _, tok := range t[start:] {
		b.WriteByte('/')
		switch v := tok.(type) {
		case string:
			b.WriteString(v)
		case int:
			b.WriteString(strconv.Itoa(v))
		default:
			return "", false
		}
	}
	return b.String(), true
}

// localControlTopic maps <prefix>/control/<kind>/<id>/<verb> to the local
// hal control topic.
func localControlTopic(prefix, remote string) (bus.Topic, bool) {
	rest, ok := strings.CutPrefix(remote, prefix+"/control/")
	if !ok {
		return nil, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return nil, false
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, false
	}
	return bus.Topic{"hal", "capability", parts[0], id, "control", parts[2]}, true
}

func decodeConfig(p any) (Config, error) {
	var cfg Config
	switch v := p.(type) {
	case []byte:
		if err := json.Unmarshal(v, &cfg); err != nil {
			return cfg, err
		}
	case string:
		if err := json.Unmarshal([]byte(v), &cfg); err != nil {
			return cfg, err
		}
	case map[string]any:
		// Already a decoded object; re-marshal for simplicity.
		b, err := json.Marshal(v)
		if err != nil {
			return cfg, err
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config payload type: %T", p)
	}
	return cfg, nil
}

func (s *Service) publishState(level, status string, err error) {
	pl := types.BridgeState{Level: level, Status: status, TS: timex.NowNs()}
	if err != nil {
		pl.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(s.stateTopic, pl, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	cur := min
	return func() time.Duration {
		d := cur
		cur = mathx.Min(cur*2, max)
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
