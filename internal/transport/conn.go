package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"go.uber.org/zap"

	"github.com/campusguess/battle-client/pkg/types"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

type Options struct {
	BaseURL           string
	ReconnectDelay    time.Duration
	HeartbeatOutgoing time.Duration
	HeartbeatIncoming time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	// ConnectTimeout bounds how long Publish waits for a connection.
	ConnectTimeout time.Duration
	Logger         *zap.Logger
}

const (
	DefaultReconnectDelay   = 2500 * time.Millisecond
	DefaultHeartbeat        = 10 * time.Second
	DefaultConnectTimeout   = 5 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
)

func (o Options) withDefaults() Options {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Conn is the single STOMP connection for one identity. It reconnects on
// its own after a drop and fans incoming messages out to subscribers.
type Conn struct {
	dialer Dialer
	opts   Options
	log    *zap.Logger

	mu       sync.Mutex
	identity string
	state    State
	gen      uint64
	cancel   context.CancelFunc
	sock     Socket
	pending  *Handshake

	writeMu sync.Mutex

	connSubs   *Registry[bool]
	inviteSubs *Registry[types.InviteMessage]
	stateSubs  *Registry[types.BattleMessage]
}

func New(dialer Dialer, opts Options) *Conn {
	opts = opts.withDefaults()
	log := opts.Logger.Named("transport")
	return &Conn{
		dialer:     dialer,
		opts:       opts,
		log:        log,
		connSubs:   NewRegistry[bool]("connection", log),
		inviteSubs: NewRegistry[types.InviteMessage]("invite", log),
		stateSubs:  NewRegistry[types.BattleMessage]("state", log),
	}
}

func (c *Conn) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) Connected() bool { return c.State() == StateConnected }

// SubscribeConnection registers fn for status changes and immediately
// replays the current status to it.
func (c *Conn) SubscribeConnection(fn func(connected bool)) func() {
	unsub := c.connSubs.Subscribe(fn)
	fn(c.Connected())
	return unsub
}

func (c *Conn) SubscribeInvite(fn func(types.InviteMessage)) func() {
	return c.inviteSubs.Subscribe(fn)
}

func (c *Conn) SubscribeState(fn func(types.BattleMessage)) func() {
	return c.stateSubs.Subscribe(fn)
}

// Connect starts (or joins) a connection for identity. The returned
// handshake settles when the first attempt succeeds or fails; later
// attempts install a fresh handshake.
func (c *Conn) Connect(identity string) *Handshake {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		c.Disconnect()
		return SettledHandshake(ErrNoIdentity)
	}

	c.mu.Lock()
	if c.identity == identity && c.state != StateDisconnected {
		if c.state == StateConnected {
			c.mu.Unlock()
			return SettledHandshake(nil)
		}
		hs := c.pending
		c.mu.Unlock()
		return hs
	}

	replaced := c.identity
	wasActive := c.state != StateDisconnected
	if wasActive {
		c.teardownLocked()
	}

	c.identity = identity
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = StateConnecting
	hs := newHandshake()
	c.pending = hs
	c.mu.Unlock()

	if wasActive {
		c.log.Info("identity changed, reconnecting",
			zap.String("from", replaced), zap.String("to", identity))
		c.connSubs.Emit(false)
	}
	go c.manage(ctx, gen, identity)
	return hs
}

// Disconnect tears the connection down without waiting for the socket to
// close. A pending handshake settles with ErrCanceled.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	identity := c.identity
	c.teardownLocked()
	c.mu.Unlock()

	if identity != "" {
		c.log.Info("disconnected", zap.String("identity", identity))
	}
	c.connSubs.Emit(false)
}

func (c *Conn) teardownLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.pending != nil {
		c.pending.settle(ErrCanceled)
		c.pending = nil
	}
	c.gen++
	c.identity = ""
	c.state = StateDisconnected
	c.sock = nil
}

// EnsureConnected waits up to timeout for the in-flight handshake. It
// never starts a second connection attempt while one is pending.
func (c *Conn) EnsureConnected(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	if c.state == StateConnected && c.sock != nil {
		c.mu.Unlock()
		return nil
	}
	identity := c.identity
	state := c.state
	hs := c.pending
	c.mu.Unlock()

	if identity == "" {
		return ErrNoIdentity
	}
	if state == StateDisconnected || hs == nil {
		hs = c.Connect(identity)
	}

	if timeout <= 0 {
		timeout = c.opts.ConnectTimeout
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := hs.Wait(wctx)
	select {
	case <-hs.Done():
		return hs.Err()
	default:
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return ErrTimeout
	}
	return nil
}

// Publish sends body as JSON to destination once the connection is up.
func (c *Conn) Publish(ctx context.Context, destination string, body any) error {
	if err := c.EnsureConnected(ctx, c.opts.ConnectTimeout); err != nil {
		return err
	}

	payload := []byte("{}")
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encoding %s payload: %w", destination, err)
		}
	}
	data, err := encodeFrame(sendFrame(destination, payload))
	if err != nil {
		return err
	}

	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return ErrNotConnected
	}
	if err := c.write(ctx, sock, data); err != nil {
		return &ConnectionError{Op: "publish", Err: err}
	}
	c.log.Debug("published", zap.String("destination", destination), zap.Int("bytes", len(payload)))
	return nil
}

func (c *Conn) write(ctx context.Context, sock Socket, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	return sock.Write(wctx, data)
}

func (c *Conn) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Conn) manage(ctx context.Context, gen uint64, identity string) {
	log := c.log.With(zap.String("identity", identity))

	endpoint, err := EndpointURL(c.opts.BaseURL, identity)
	if err != nil {
		c.giveUp(gen, &ConnectionError{Op: "dial", Err: err})
		log.Error("cannot build endpoint", zap.Error(err))
		return
	}

	for {
		sock, hb, err := c.handshake(ctx, endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.retry(gen, err)
			log.Warn("connect failed", zap.Error(err), zap.Duration("retry_in", c.opts.ReconnectDelay))
			if !sleepCtx(ctx, c.opts.ReconnectDelay) {
				return
			}
			continue
		}

		if !c.onConnected(gen, sock) {
			_ = sock.Close()
			return
		}
		log.Info("connected", zap.Duration("heartbeat_send", hb.send), zap.Duration("heartbeat_recv", hb.recv))

		err = c.serve(ctx, gen, sock, hb)
		_ = sock.Close()
		if ctx.Err() != nil {
			return
		}
		if !c.onDropped(gen) {
			return
		}
		log.Warn("connection lost", zap.Error(err), zap.Duration("retry_in", c.opts.ReconnectDelay))
		if !sleepCtx(ctx, c.opts.ReconnectDelay) {
			return
		}
	}
}

func (c *Conn) handshake(ctx context.Context, endpoint string) (Socket, heartbeat, error) {
	hctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	sock, err := c.dialer.Dial(hctx, endpoint)
	if err != nil {
		return nil, heartbeat{}, &ConnectionError{Op: "dial", Err: err}
	}
	fail := func(err error) (Socket, heartbeat, error) {
		_ = sock.Close()
		return nil, heartbeat{}, &ConnectionError{Op: "connect", Err: err}
	}

	data, err := encodeFrame(connectFrame(hostOf(endpoint), c.opts.HeartbeatOutgoing, c.opts.HeartbeatIncoming))
	if err != nil {
		return fail(err)
	}
	if err := sock.Write(hctx, data); err != nil {
		return fail(err)
	}

	for {
		raw, err := sock.Read(hctx)
		if err != nil {
			return fail(fmt.Errorf("%w: %w", ErrClosed, err))
		}
		frames, err := decodeFrames(raw)
		if err != nil {
			return fail(fmt.Errorf("%w: %w", ErrProtocol, err))
		}
		for _, f := range frames {
			switch f.Command {
			case frame.CONNECTED:
				hb := negotiateHeartbeat(c.opts.HeartbeatOutgoing, c.opts.HeartbeatIncoming, f.Header.Get(frame.HeartBeat))
				for _, sub := range []*frame.Frame{
					subscribeFrame(subInvite, types.TopicInvite),
					subscribeFrame(subState, types.TopicState),
				} {
					data, err := encodeFrame(sub)
					if err != nil {
						return fail(err)
					}
					if err := sock.Write(hctx, data); err != nil {
						return fail(err)
					}
				}
				return sock, hb, nil
			case frame.ERROR:
				return fail(fmt.Errorf("%w: %s", ErrProtocol, errorText(f)))
			}
		}
	}
}

func (c *Conn) onConnected(gen uint64, sock Socket) bool {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return false
	}
	c.sock = sock
	c.state = StateConnected
	hs := c.pending
	c.pending = nil
	c.mu.Unlock()

	if hs != nil {
		hs.settle(nil)
	}
	c.connSubs.Emit(true)
	return true
}

func (c *Conn) onDropped(gen uint64) bool {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return false
	}
	c.sock = nil
	c.state = StateConnecting
	c.pending = newHandshake()
	c.mu.Unlock()

	c.connSubs.Emit(false)
	return true
}

// retry fails the current handshake and installs a fresh one for the
// next attempt.
func (c *Conn) retry(gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	old := c.pending
	c.pending = newHandshake()
	c.mu.Unlock()

	if old != nil {
		old.settle(err)
	}
}

func (c *Conn) giveUp(gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	old := c.pending
	c.pending = nil
	c.state = StateDisconnected
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	if old != nil {
		old.settle(err)
	}
}

// serve runs until the socket fails or ctx is canceled.
func (c *Conn) serve(ctx context.Context, gen uint64, sock Socket, hb heartbeat) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if hb.send > 0 {
		go c.sendHeartbeats(ctx, sock, hb.send)
	}

	for {
		rctx, rcancel := ctx, context.CancelFunc(func() {})
		if hb.recv > 0 {
			rctx, rcancel = context.WithTimeout(ctx, 2*hb.recv)
		}
		raw, err := sock.Read(rctx)
		rcancel()
		if err != nil {
			return &ConnectionError{Op: "read", Err: err}
		}
		if !c.current(gen) {
			return nil
		}

		frames, err := decodeFrames(raw)
		if err != nil {
			c.log.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		for _, f := range frames {
			switch f.Command {
			case frame.MESSAGE:
				c.dispatch(f)
			case frame.ERROR:
				return &ConnectionError{Op: "read", Err: fmt.Errorf("%w: %s", ErrProtocol, errorText(f))}
			}
		}
	}
}

func (c *Conn) sendHeartbeats(ctx context.Context, sock Socket, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.write(ctx, sock, heartbeatFrame); err != nil {
				c.log.Debug("heartbeat write failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *Conn) dispatch(f *frame.Frame) {
	sub := f.Header.Get(frame.Subscription)
	dest := f.Header.Get(frame.Destination)

	switch {
	case sub == subInvite || (sub == "" && dest == types.TopicInvite):
		m, err := types.DecodeInviteMessage(f.Body)
		if err != nil {
			c.log.Warn("dropping invite message", zap.Error(fmt.Errorf("%w: %w", ErrMalformedMessage, err)))
			return
		}
		c.inviteSubs.Emit(m)
	case sub == subState || (sub == "" && dest == types.TopicState):
		m, err := types.DecodeBattleMessage(f.Body)
		if err != nil {
			c.log.Warn("dropping state message", zap.Error(fmt.Errorf("%w: %w", ErrMalformedMessage, err)))
			return
		}
		c.stateSubs.Emit(m)
	default:
		c.log.Debug("message for unknown subscription", zap.String("subscription", sub), zap.String("destination", dest))
	}
}

func errorText(f *frame.Frame) string {
	if msg := f.Header.Get(frame.Message); msg != "" {
		return msg
	}
	return strings.TrimSpace(string(f.Body))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
