// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

// Package realtime maintains the per-device push channel to the
// backend. It is a latency optimization only: the state machine's
// polling and batch-resend paths remain the correctness backstop, so
// this client drops rather than buffers on any doubt.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/thejerf/suture/v4"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/config"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/logging"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/metrics"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/models"
)

// Channel lifecycle states. networkError is the terminal state reached
// by exhausting the reconnect budget; it clears on a connectivity
// signal. error is reserved for faults no reconnect can fix.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateSubscribed   = "subscribed"
	StateRetrying     = "retrying"
	StateNetworkError = "networkError"
	StateError        = "error"
)

func stateGaugeValue(state string) float64 {
	switch state {
	case StateDisconnected:
		return 0
	case StateConnecting:
		return 1
	case StateSubscribed:
		return 2
	case StateRetrying:
		return 3
	case StateNetworkError:
		return 4
	default:
		return 5
	}
}

// Client subscribes to the device-sync channel and feeds normalized
// events into the dispatcher. It implements suture.Service; the
// reconnect policy lives here, not in the supervisor, because the
// backoff cap and connectivity gating are protocol requirements.
type Client struct {
	cfg      config.RealtimeConfig
	deviceID string
	dispatch func(models.Event)
	onState  func(string)
	dialer   *websocket.Dialer

	connectivity chan struct{}

	mu       sync.Mutex
	state    string
	stopped  bool
	conn     *websocket.Conn
	attempts int
}

// NewClient creates a realtime client for one device. Events that pass
// normalization and the device filter are handed to dispatch.
func NewClient(cfg config.RealtimeConfig, deviceID string, dispatch func(models.Event)) *Client {
	return &Client{
		cfg:      cfg,
		deviceID: deviceID,
		dispatch: dispatch,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},

		connectivity: make(chan struct{}, 1),
		state:        StateDisconnected,
	}
}

// Channel is the per-device topic name.
func (c *Client) Channel() string {
	return "device-sync-" + c.deviceID
}

// State returns the current lifecycle state.
func (c *Client) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange installs an observer for lifecycle transitions. Must be
// set before Serve starts.
func (c *Client) OnStateChange(fn func(string)) {
	c.onState = fn
}

func (c *Client) setState(state string) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	metrics.RealtimeStatus.Set(stateGaugeValue(state))
	logging.Debug().Str("state", state).Msg("realtime channel state")
	if c.onState != nil {
		c.onState(state)
	}
}

// Unsubscribe permanently tears the channel down. Called on disconnect;
// the service will not reconnect afterwards.
func (c *Client) Unsubscribe() {
	c.mu.Lock()
	c.stopped = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// NotifyConnectivityChange signals that network connectivity was
// restored. If the channel went terminal after exhausting its backoff
// budget, this re-triggers exactly one subscribe attempt.
func (c *Client) NotifyConnectivityChange() {
	select {
	case c.connectivity <- struct{}{}:
	default:
	}
}

// String identifies the service in supervisor logs.
func (c *Client) String() string { return "realtime-client" }

// Serve runs the subscribe/read/reconnect loop until ctx is cancelled
// or Unsubscribe is called.
func (c *Client) Serve(ctx context.Context) error {
	for {
		if c.isStopped() {
			c.setState(StateDisconnected)
			return suture.ErrDoNotRestart
		}

		c.setState(StateConnecting)
		conn, err := c.subscribe(ctx)
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.attempts = 0
			c.mu.Unlock()
			c.setState(StateSubscribed)

			err = c.readLoop(ctx, conn)
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			_ = conn.Close()
		}
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}
		if c.isStopped() {
			c.setState(StateDisconnected)
			return suture.ErrDoNotRestart
		}
		logging.Warn().Err(err).Msg("realtime channel dropped")

		if waitErr := c.backoff(ctx); waitErr != nil {
			c.setState(StateDisconnected)
			return waitErr
		}
	}
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// subscribe dials the endpoint and announces the device channel.
func (c *Client) subscribe(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	sub := map[string]string{"type": "subscribe", "channel": c.Channel()}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send subscribe: %w", err)
	}
	logging.Info().Str("channel", c.Channel()).Msg("realtime channel subscribed")
	return conn, nil
}

// readLoop pumps messages and heartbeats until the connection breaks.
// The done channel releases a reader mid-handover when readLoop exits
// on a write error rather than a read error.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)

	msgs := make(chan []byte)
	errs := make(chan error, 1)
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				errs <- err
				return
			}
			select {
			case msgs <- raw:
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	heartbeat := time.NewTicker(c.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			return err
		case <-heartbeat.C:
			hb := map[string]string{"type": "heartbeat", "channel": c.Channel()}
			if err := conn.WriteJSON(hb); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		case raw := <-msgs:
			c.handleMessage(raw)
		}
	}
}

// handleMessage normalizes one payload and dispatches it if it belongs
// to this device. Mismatches and garbage are counted and dropped.
func (c *Client) handleMessage(raw []byte) {
	ev, err := normalizeEvent(raw, time.Now())
	if err != nil {
		metrics.RealtimeEvents.WithLabelValues("unknown", "unparseable").Inc()
		logging.Debug().Err(err).Msg("dropping unparseable realtime event")
		return
	}
	if ev.DeviceID != "" && ev.DeviceID != c.deviceID {
		metrics.RealtimeEvents.WithLabelValues(string(ev.Type), "device_mismatch").Inc()
		logging.Debug().
			Str("event_device", ev.DeviceID).
			Str("local_device", c.deviceID).
			Msg("dropping realtime event for another device")
		return
	}
	metrics.RealtimeEvents.WithLabelValues(string(ev.Type), "dispatched").Inc()
	c.dispatch(ev)
}

// backoff waits 2^attempt seconds between reconnects. Past the attempt
// cap the channel goes terminal and waits for a connectivity signal,
// which buys exactly one more attempt.
func (c *Client) backoff(ctx context.Context) error {
	c.mu.Lock()
	c.attempts++
	attempts := c.attempts
	c.mu.Unlock()
	metrics.RealtimeReconnects.Inc()

	if attempts > c.cfg.MaxReconnectAttempts {
		c.setState(StateNetworkError)
		logging.Warn().Int("attempts", attempts).Msg("realtime reconnect budget exhausted, waiting for connectivity")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.connectivity:
			c.mu.Lock()
			c.attempts = 0
			c.mu.Unlock()
			return nil
		}
	}

	c.setState(StateRetrying)
	delay := time.Duration(1<<attempts) * time.Second
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
