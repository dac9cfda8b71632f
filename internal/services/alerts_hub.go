package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AnshRaj112/techphono-security/internal/models"
)

const (
	// AlertChannel is the redis channel alerts are relayed on when several
	// engine processes share a redis store.
	AlertChannel = "security:alerts"

	subscriberBuffer = 16
	alertWriteWait   = 10 * time.Second
)

// AlertConn is the part of a websocket connection the hub writes to.
type AlertConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// AlertSubscriber is one connected alert stream.
type AlertSubscriber struct {
	conn AlertConn
	send chan models.SecurityAlert
	done chan struct{}
	once sync.Once
}

// AlertHub fans alerts out to websocket subscribers. A slow subscriber
// misses alerts rather than holding up the monitor.
type AlertHub struct {
	mu          sync.RWMutex
	subscribers map[*AlertSubscriber]struct{}
	relay       *redis.Client
	relayOnce   sync.Once
	opts        options
}

func NewAlertHub(opts ...Option) *AlertHub {
	return &AlertHub{
		subscribers: make(map[*AlertSubscriber]struct{}),
		opts:        buildOptions(opts),
	}
}

// Subscribe registers conn and starts its writer. The writer stops when ctx
// ends, a write fails or Unsubscribe is called.
func (h *AlertHub) Subscribe(ctx context.Context, conn AlertConn) *AlertSubscriber {
	sub := &AlertSubscriber{
		conn: conn,
		send: make(chan models.SecurityAlert, subscriberBuffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	n := len(h.subscribers)
	h.mu.Unlock()
	h.opts.metrics.AlertSubscribers.Set(float64(n))

	go h.writeLoop(ctx, sub)
	return sub
}

// Unsubscribe removes sub and closes its connection. It is safe to call more
// than once.
func (h *AlertHub) Unsubscribe(sub *AlertSubscriber) {
	h.mu.Lock()
	delete(h.subscribers, sub)
	n := len(h.subscribers)
	h.mu.Unlock()
	h.opts.metrics.AlertSubscribers.Set(float64(n))

	sub.once.Do(func() {
		close(sub.done)
		_ = sub.conn.Close()
	})
}

// Len is the number of connected subscribers.
func (h *AlertHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *AlertHub) writeLoop(ctx context.Context, sub *AlertSubscriber) {
	defer h.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case alert := <-sub.send:
			if err := sub.conn.WriteJSON(alert); err != nil {
				h.opts.logger.Debug("alert subscriber write failed", "error", err)
				return
			}
		}
	}
}

// Publish delivers alert to every subscriber. With a relay attached it goes
// through redis so subscribers on other processes see it too.
func (h *AlertHub) Publish(alert models.SecurityAlert) {
	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay != nil {
		data, err := json.Marshal(alert)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), alertWriteWait)
			err = relay.Publish(ctx, AlertChannel, data).Err()
			cancel()
		}
		if err == nil {
			return
		}
		h.opts.logger.Warn("alert relay publish failed, delivering locally", "error", err)
	}
	h.fanOut(alert)
}

func (h *AlertHub) fanOut(alert models.SecurityAlert) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subscribers {
		select {
		case sub.send <- alert:
		default:
			h.opts.logger.Debug("alert dropped for slow subscriber", "alert_id", alert.ID)
		}
	}
}

// StartRelay attaches a redis client and starts the single shared listener
// for relayed alerts. Later calls are ignored.
func (h *AlertHub) StartRelay(ctx context.Context, client *redis.Client) {
	if client == nil {
		return
	}
	h.relayOnce.Do(func() {
		h.mu.Lock()
		h.relay = client
		h.mu.Unlock()
		go h.runRelay(ctx, client)
	})
}

func (h *AlertHub) runRelay(ctx context.Context, client *redis.Client) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		func() {
			pubsub := client.Subscribe(ctx, AlertChannel)
			defer pubsub.Close()
			h.opts.logger.Info("alert relay subscribed", "channel", AlertChannel)

			for {
				msg, err := pubsub.ReceiveMessage(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					h.opts.logger.Warn("alert relay receive failed", "error", err, "retry_in", backoff)
					select {
					case <-ctx.Done():
						return
					case <-time.After(backoff):
					}
					backoff *= 2
					if backoff > 30*time.Second {
						backoff = 30 * time.Second
					}
					return
				}
				backoff = time.Second

				var alert models.SecurityAlert
				if err := json.Unmarshal([]byte(msg.Payload), &alert); err != nil {
					h.opts.logger.Warn("relayed alert unreadable", "error", err)
					continue
				}
				h.fanOut(alert)
			}
		}()
	}
}
