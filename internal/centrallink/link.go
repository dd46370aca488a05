// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

// Package centrallink maintains the persistent bidirectional session to the
// central server: reachability probe, websocket dial, authentication,
// heartbeat, address reporting and typed message dispatch. It is a framing
// and session component only; inbound entity messages are handed to
// registered handlers (the reconciler) and never touch the store directly.
package centrallink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"

	"github.com/teskerti/station-node/internal/metrics"
)

// Session states.
const (
	StateDisconnected  = "disconnected"
	StateTesting       = "testing"
	StateConnecting    = "connecting"
	StateConnected     = "connected"
	StateAuthenticated = "authenticated"
)

// state machine events
const (
	eventProbe        = "probe"
	eventDial         = "dial"
	eventOpen         = "open"
	eventAuthenticate = "authenticate"
	eventClose        = "close"
)

var stateGauge = map[string]float64{
	StateDisconnected:  0,
	StateTesting:       1,
	StateConnecting:    2,
	StateConnected:     3,
	StateAuthenticated: 4,
}

// Config for the central link.
type Config struct {
	// WSURL is the central websocket endpoint.
	WSURL string
	// HTTPURL is the central HTTP base used for the reachability probe.
	HTTPURL string
	// StationID identifies this station in the authenticate frame.
	StationID string

	// ReconnectInterval is the fixed pause between reattach attempts.
	// Site-local connectivity is either up or down; rapid reattach beats
	// load shedding, so there is no backoff.
	ReconnectInterval time.Duration
	// HeartbeatInterval paces heartbeat frames. Two consecutive missed
	// acks mark the session suspect and force a reconnect.
	HeartbeatInterval time.Duration
	// ConnectionTestInterval paces connection_test frames.
	ConnectionTestInterval time.Duration
	// IPRefreshInterval paces public-IP re-detection.
	IPRefreshInterval time.Duration
	// RequestTimeout bounds correlated request/response calls.
	RequestTimeout time.Duration
	// ProbeTimeout bounds the reachability probe.
	ProbeTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 30 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ConnectionTestInterval <= 0 {
		c.ConnectionTestInterval = 60 * time.Second
	}
	if c.IPRefreshInterval <= 0 {
		c.IPRefreshInterval = time.Hour
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
}

// Handler processes an inbound frame of a subscribed type.
type Handler func(ctx context.Context, f Frame)

// Link is the durable session to central.
type Link struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	machine *fsm.FSM

	mu   sync.Mutex // guards conn writes and replacement
	conn *websocket.Conn

	handlersMu sync.RWMutex
	handlers   map[string][]Handler

	pending *pendingCalls

	ipMu     sync.Mutex
	publicIP string

	missedMu   sync.Mutex
	missedAcks int

	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates a link. Call Run to start the session loop.
func New(cfg Config, logger *slog.Logger) *Link {
	cfg.setDefaults()

	l := &Link{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger.With("component", "central-link", "stationId", cfg.StationID),
		handlers:   make(map[string][]Handler),
		pending:    newPendingCalls(),
		stopChan:   make(chan struct{}),
	}

	l.machine = fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: eventProbe, Src: []string{StateDisconnected}, Dst: StateTesting},
			{Name: eventDial, Src: []string{StateTesting}, Dst: StateConnecting},
			{Name: eventOpen, Src: []string{StateConnecting}, Dst: StateConnected},
			{Name: eventAuthenticate, Src: []string{StateConnected}, Dst: StateAuthenticated},
			{Name: eventClose, Src: []string{StateTesting, StateConnecting, StateConnected, StateAuthenticated}, Dst: StateDisconnected},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				metrics.LinkState.Set(stateGauge[e.Dst])
				l.logger.Debug("link state changed", "from", e.Src, "to", e.Dst)
			},
		},
	)

	return l
}

// State returns the current session state.
func (l *Link) State() string {
	return l.machine.Current()
}

// Authenticated reports whether the session is fully established.
func (l *Link) Authenticated() bool {
	return l.machine.Current() == StateAuthenticated
}

// RegisterHandler subscribes a handler to an inbound message type.
// Registration must complete before Run starts reading.
func (l *Link) RegisterHandler(msgType string, h Handler) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	l.handlers[msgType] = append(l.handlers[msgType], h)
}

// Run drives the session loop until the context is canceled or Stop is
// called: probe, dial, authenticate, serve, then reconnect at a fixed
// interval after any loss.
func (l *Link) Run(ctx context.Context) error {
	l.logger.Info("starting central link", "wsUrl", l.cfg.WSURL)

	for {
		select {
		case <-ctx.Done():
			l.teardown()
			return ctx.Err()
		case <-l.stopChan:
			l.teardown()
			return nil
		default:
		}

		if err := l.establish(ctx); err != nil {
			l.logger.Error("session establishment failed",
				"error", err,
				"retryAfter", l.cfg.ReconnectInterval,
			)
			l.toDisconnected(ctx)
			if !l.sleep(ctx, l.cfg.ReconnectInterval) {
				l.teardown()
				return ctx.Err()
			}
			continue
		}

		// Serve blocks until the connection is lost or ctx ends.
		l.serve(ctx)

		l.toDisconnected(ctx)
		l.pending.failAll()
		metrics.LinkReconnectsTotal.Inc()
		l.logger.Info("session lost, reconnecting", "delay", l.cfg.ReconnectInterval)
		if !l.sleep(ctx, l.cfg.ReconnectInterval) {
			l.teardown()
			return ctx.Err()
		}
	}
}

// Stop terminates the session loop.
func (l *Link) Stop() {
	l.stopOnce.Do(func() { close(l.stopChan) })
}

func (l *Link) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-l.stopChan:
		return false
	case <-time.After(d):
		return true
	}
}

func (l *Link) toDisconnected(ctx context.Context) {
	if l.machine.Current() != StateDisconnected {
		_ = l.machine.Event(ctx, eventClose)
	}
	l.closeConn()
}

// establish runs probe -> dial -> authenticate.
func (l *Link) establish(ctx context.Context) error {
	if err := l.machine.Event(ctx, eventProbe); err != nil {
		return fmt.Errorf("state probe: %w", err)
	}
	if err := l.probeReachability(ctx); err != nil {
		return fmt.Errorf("central unreachable: %w", err)
	}

	if err := l.machine.Event(ctx, eventDial); err != nil {
		return fmt.Errorf("state dial: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, l.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.cfg.WSURL, err)
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	if err := l.machine.Event(ctx, eventOpen); err != nil {
		return fmt.Errorf("state open: %w", err)
	}
	l.logger.Info("connected to central")

	ip, err := detectPublicIP(ctx, l.httpClient)
	if err != nil {
		l.logger.Warn("public IP detection failed", "error", err)
	}
	l.setPublicIP(ip)

	if err := l.writeFrame(MsgAuthenticate, AuthenticatePayload{
		StationID: l.cfg.StationID,
		Timestamp: time.Now(),
		PublicIP:  ip,
	}, ""); err != nil {
		return fmt.Errorf("send authenticate: %w", err)
	}
	return nil
}

// probeReachability performs the HTTP health probe. Any response below 500
// counts as reachable.
func (l *Link) probeReachability(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, l.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, l.cfg.HTTPURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("health probe returned %d", resp.StatusCode)
	}
	return nil
}

// handlerQueueSize bounds the frames waiting for handler execution. Past it
// the read loop blocks, which is the backpressure signal to central.
const handlerQueueSize = 256

// serve reads frames and runs the session timers until the connection
// drops. The authenticated transition happens inside the read loop when the
// authenticated frame arrives.
func (l *Link) serve(ctx context.Context) {
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.resetMissedAcks()

	// Entity frames run off the read loop: a handler applying a large sync
	// batch must not stall heartbeat acks or pending-call responses. The
	// single pump goroutine preserves per-connection arrival order.
	handlerFrames := make(chan Frame, handlerQueueSize)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.timerLoop(serveCtx)
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-serveCtx.Done():
				return
			case f := <-handlerFrames:
				l.runHandlers(serveCtx, f)
			}
		}
	}()

	// Closing the connection unblocks ReadMessage when ctx ends.
	go func() {
		select {
		case <-serveCtx.Done():
			l.closeConn()
		case <-l.stopChan:
			l.closeGracefully()
		}
	}()

	for {
		l.mu.Lock()
		conn := l.conn
		l.mu.Unlock()
		if conn == nil {
			break
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.logger.Error("websocket read error", "error", err)
			} else {
				l.logger.Debug("connection closed", "error", err)
			}
			break
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			l.logger.Warn("dropping unparseable frame", "error", err)
			continue
		}
		l.dispatch(serveCtx, f, handlerFrames)
	}

	cancel()
	wg.Wait()
}

// timerLoop runs heartbeat, connection test and IP refresh for one session.
func (l *Link) timerLoop(ctx context.Context) {
	heartbeat := time.NewTicker(l.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	connTest := time.NewTicker(l.cfg.ConnectionTestInterval)
	defer connTest.Stop()
	ipRefresh := time.NewTicker(l.cfg.IPRefreshInterval)
	defer ipRefresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if !l.Authenticated() {
				continue
			}
			if l.incrementMissedAcks() > 2 {
				l.logger.Warn("two consecutive heartbeat acks missed, closing session")
				l.closeConn()
				return
			}
			if err := l.writeFrame(MsgHeartbeat, HeartbeatPayload{
				StationID: l.cfg.StationID,
				Timestamp: time.Now(),
			}, ""); err != nil {
				l.logger.Warn("heartbeat send failed", "error", err)
			}
		case <-connTest.C:
			if !l.Authenticated() {
				continue
			}
			if err := l.writeFrame(MsgConnectionTest, nil, ""); err != nil {
				l.logger.Warn("connection test send failed", "error", err)
			}
		case <-ipRefresh.C:
			l.refreshPublicIP(ctx)
		}
	}
}

// refreshPublicIP re-detects the public address and reports a change while
// authenticated.
func (l *Link) refreshPublicIP(ctx context.Context) {
	ip, err := detectPublicIP(ctx, l.httpClient)
	if err != nil || ip == "" {
		l.logger.Debug("public IP refresh failed", "error", err)
		return
	}

	l.ipMu.Lock()
	changed := ip != l.publicIP
	l.publicIP = ip
	l.ipMu.Unlock()

	if changed && l.Authenticated() {
		l.logger.Info("public IP changed, reporting", "publicIp", ip)
		if err := l.writeFrame(MsgIPUpdate, IPUpdatePayload{
			StationID: l.cfg.StationID,
			PublicIP:  ip,
		}, ""); err != nil {
			l.logger.Warn("ip_update send failed", "error", err)
		}
	}
}

// dispatch routes one inbound frame: pending-call responses first, then
// session control frames inline, then registered handlers via the pump
// goroutine.
func (l *Link) dispatch(ctx context.Context, f Frame, handlerFrames chan<- Frame) {
	if f.MessageID != "" && l.pending.resolve(f.MessageID, f) {
		return
	}

	switch f.Type {
	case MsgConnected:
		l.logger.Debug("channel acknowledged by central")
		return
	case MsgAuthenticated:
		if err := l.machine.Event(ctx, eventAuthenticate); err != nil {
			l.logger.Warn("unexpected authenticated frame", "state", l.State())
			return
		}
		l.logger.Info("authenticated with central")
		return
	case MsgAuthError:
		l.logger.Error("central rejected authentication", "payload", string(f.Payload))
		l.closeConn()
		return
	case MsgHeartbeatAck:
		l.resetMissedAcks()
		return
	case MsgConnectionTestResponse, MsgIPUpdateAck:
		return
	case MsgIPUpdateError:
		l.logger.Warn("central rejected ip update", "payload", string(f.Payload))
		return
	}

	l.handlersMu.RLock()
	registered := len(l.handlers[f.Type]) > 0
	l.handlersMu.RUnlock()

	if !registered {
		l.logger.Debug("no handler for message", "type", f.Type)
		return
	}
	select {
	case handlerFrames <- f:
	case <-ctx.Done():
	}
}

func (l *Link) runHandlers(ctx context.Context, f Frame) {
	l.handlersMu.RLock()
	handlers := l.handlers[f.Type]
	l.handlersMu.RUnlock()
	for _, h := range handlers {
		h(ctx, f)
	}
}

// Send ships a fire-and-forget frame. Requires an authenticated session.
func (l *Link) Send(msgType string, payload any) error {
	if !l.Authenticated() {
		return ErrNotConnected
	}
	return l.writeFrame(msgType, payload, "")
}

// Request ships a correlated frame and waits for the matching response.
func (l *Link) Request(ctx context.Context, msgType string, payload any) (Frame, error) {
	if !l.Authenticated() {
		return Frame{}, ErrNotConnected
	}

	messageID := newMessageID(msgType)
	ch := l.pending.register(messageID)

	if err := l.writeFrame(msgType, payload, messageID); err != nil {
		l.pending.drop(messageID)
		return Frame{}, err
	}

	timer := time.NewTimer(l.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		l.pending.drop(messageID)
		return Frame{}, ctx.Err()
	case <-timer.C:
		l.pending.drop(messageID)
		return Frame{}, ErrRequestTimedOut
	case resp, ok := <-ch:
		if !ok {
			return Frame{}, ErrNotConnected
		}
		if resp.Type == MsgError {
			return resp, ErrCentralRejected
		}
		return resp, nil
	}
}

func (l *Link) writeFrame(msgType string, payload any, messageID string) error {
	f, err := NewFrame(msgType, payload)
	if err != nil {
		return fmt.Errorf("build %s frame: %w", msgType, err)
	}
	f.MessageID = messageID

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", msgType, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ErrNotConnected
	}
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", msgType, err)
	}
	return nil
}

func (l *Link) setPublicIP(ip string) {
	l.ipMu.Lock()
	l.publicIP = ip
	l.ipMu.Unlock()
}

func (l *Link) resetMissedAcks() {
	l.missedMu.Lock()
	l.missedAcks = 0
	l.missedMu.Unlock()
}

func (l *Link) incrementMissedAcks() int {
	l.missedMu.Lock()
	defer l.missedMu.Unlock()
	l.missedAcks++
	return l.missedAcks
}

func (l *Link) closeConn() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}

// closeGracefully sends a normal-closure frame before closing, used on
// shutdown rather than on connection loss.
func (l *Link) closeGracefully() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"), deadline)
		l.conn.Close()
		l.conn = nil
	}
}

func (l *Link) teardown() {
	l.closeGracefully()
	l.pending.failAll()
	l.toDisconnectedFinal()
}

func (l *Link) toDisconnectedFinal() {
	if l.machine.Current() != StateDisconnected {
		_ = l.machine.Event(context.Background(), eventClose)
	}
	metrics.LinkState.Set(stateGauge[StateDisconnected])
}
