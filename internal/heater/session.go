package heater

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/solamagic/internal/ble"
)

// State is the connection lifecycle state of a session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is the last known view of the heater.
type Status struct {
	Level int // percent: 0, 33, 66 or 100
	RSSI  int // dBm; 0 until a scan has seen the device
	State State
}

// Options configures session behavior.
type Options struct {
	ConnectTimeout time.Duration // bound on transport connect + handshake
	WriteTimeout   time.Duration // bound on a single write, excluding repeats
	IdleTimeout    time.Duration // inactivity before the connection is yielded
	ConfirmWindow  time.Duration // stale-status suppression window after a command
	UnlockPayload  []byte        // unlock value for handle 0x001F
	OffRepeat      int           // writes in the off sequence
	OffDelay       time.Duration // pause between off writes
}

// DefaultOptions returns production defaults. The 3 minute idle timeout is
// deliberate: the heater firmware accepts a single central, and yielding
// the link periodically lets the vendor app pair too.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   5 * time.Second,
		IdleTimeout:    3 * time.Minute,
		ConfirmWindow:  time.Second,
		UnlockPayload:  DefaultUnlockPayload,
		OffRepeat:      DefaultOffRepeat,
		OffDelay:       DefaultOffDelay,
	}
}

type request struct {
	name    string
	timeout time.Duration
	run     func(ctx context.Context) error
	done    chan error
}

// Session owns the single BLE connection to one heater and serializes all
// interaction with it. Operations are submitted to a run loop over an
// unbuffered channel, so concurrent callers are served strictly in
// submission order and never interleave mid-operation. The loop also owns
// the idle deadline; notifications bypass the loop entirely and update the
// status record through their own mutex.
type Session struct {
	adapter ble.Adapter
	addr    string
	opts    Options

	reqCh    chan *request
	stopCh   chan struct{}
	loopDone chan struct{}
	lostCh   chan ble.Connection
	closed   atomic.Bool

	// Owned by the run loop.
	conn      ble.Connection
	idle      *time.Timer
	idleArmed bool

	// inflight aborts the operation currently executing in the loop, so
	// Disconnect and Close can act as hard cancellation from outside.
	cancelMu sync.Mutex
	inflight context.CancelFunc

	// Status record, independent of the loop so notification delivery
	// never waits behind an in-flight command.
	statusMu    sync.Mutex
	status      Status
	expected    int
	expectedSet bool
	expectedAt  time.Time
	onChange    func(Status)
}

// NewSession creates a session for the heater at the given address and
// starts its run loop. Call Close to release it.
func NewSession(adapter ble.Adapter, mac string, opts Options) *Session {
	def := DefaultOptions()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = def.IdleTimeout
	}
	if opts.ConfirmWindow <= 0 {
		opts.ConfirmWindow = def.ConfirmWindow
	}
	if len(opts.UnlockPayload) == 0 {
		opts.UnlockPayload = def.UnlockPayload
	}
	if opts.OffRepeat <= 0 {
		opts.OffRepeat = def.OffRepeat
	}
	if opts.OffDelay <= 0 {
		opts.OffDelay = def.OffDelay
	}

	s := &Session{
		adapter:  adapter,
		addr:     mac,
		opts:     opts,
		reqCh:    make(chan *request),
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
		lostCh:   make(chan ble.Connection, 1),
		idle:     time.NewTimer(time.Hour),
	}
	if !s.idle.Stop() {
		<-s.idle.C
	}
	go s.loop()
	return s
}

// Address returns the peripheral address this session manages.
func (s *Session) Address() string { return s.addr }

// Status returns a copy of the last known heater status.
func (s *Session) Status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

// SetOnChange registers a callback invoked after every status record
// change. The callback runs on whichever goroutine caused the change and
// must not block.
func (s *Session) SetOnChange(fn func(Status)) {
	s.statusMu.Lock()
	s.onChange = fn
	s.statusMu.Unlock()
}

// ObserveRSSI records a signal strength reading from discovery.
func (s *Session) ObserveRSSI(dbm int) {
	s.statusMu.Lock()
	s.status.RSSI = dbm
	st, cb := s.status, s.onChange
	s.statusMu.Unlock()
	if cb != nil {
		cb(st)
	}
}

// Connect establishes the transport link and runs the unlock/subscribe
// handshake. Calling it while already connected is a no-op.
func (s *Session) Connect() error {
	return s.submit("connect", s.opts.ConnectTimeout, s.doConnect)
}

// SetLevel sets the heater to 0, 33, 66 or 100 percent, connecting first
// if needed. Off is written repeatedly per the protocol quirk. Any other
// value is rejected before touching the transport.
func (s *Session) SetLevel(pct int) error {
	cmd, err := CommandForLevel(pct)
	if err != nil {
		return err
	}
	if pct == LevelOff {
		cmd.Repeat = s.opts.OffRepeat
		cmd.Delay = s.opts.OffDelay
	}
	timeout := s.opts.ConnectTimeout + s.opts.WriteTimeout + time.Duration(cmd.Repeat)*cmd.Delay
	return s.submit(fmt.Sprintf("set-level %d", pct), timeout, func(ctx context.Context) error {
		if err := s.doWrite(ctx, cmd); err != nil {
			return err
		}
		s.noteCommanded(pct)
		return nil
	})
}

// Off turns the heater off.
func (s *Session) Off() error { return s.SetLevel(LevelOff) }

// WriteRaw writes an arbitrary payload to an arbitrary handle, for
// protocol exploration. No validation of payload semantics is done.
func (s *Session) WriteRaw(handle uint16, payload []byte, withResponse bool, repeat int, delay time.Duration) error {
	if repeat < 1 {
		repeat = 1
	}
	cmd := Command{Handle: handle, Payload: payload, WithResponse: withResponse, Repeat: repeat, Delay: delay}
	timeout := s.opts.ConnectTimeout + s.opts.WriteTimeout + time.Duration(repeat)*delay
	return s.submit(fmt.Sprintf("raw write %#06x", handle), timeout, func(ctx context.Context) error {
		return s.doWrite(ctx, cmd)
	})
}

// WriteByUUID is WriteRaw with the handle resolved from a characteristic
// UUID on the connected peripheral.
func (s *Session) WriteByUUID(charUUID string, payload []byte, withResponse bool) error {
	timeout := s.opts.ConnectTimeout + s.opts.WriteTimeout
	return s.submit("uuid write "+charUUID, timeout, func(ctx context.Context) error {
		if err := s.doConnect(ctx); err != nil {
			return err
		}
		handle, err := s.conn.FindHandle(charUUID)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrCharacteristicNotFound, charUUID)
		}
		return s.doWrite(ctx, Command{Handle: handle, Payload: payload, WithResponse: withResponse, Repeat: 1})
	})
}

// Disconnect tears the connection down from any state and cancels the idle
// timer. An in-flight operation is aborted; its caller sees the failure.
// Always succeeds.
func (s *Session) Disconnect() error {
	s.abortInflight()
	return s.submit("disconnect", s.opts.ConnectTimeout, func(context.Context) error {
		s.teardown("manual disconnect")
		return nil
	})
}

// Close disconnects and stops the run loop. The session is unusable
// afterwards.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		<-s.loopDone
		return nil
	}
	s.abortInflight()
	close(s.stopCh)
	<-s.loopDone
	return nil
}

func (s *Session) submit(name string, timeout time.Duration, run func(context.Context) error) error {
	req := &request{name: name, timeout: timeout, run: run, done: make(chan error, 1)}
	select {
	case s.reqCh <- req:
	case <-s.loopDone:
		return ErrSessionClosed
	}
	select {
	case err := <-req.done:
		return err
	case <-s.loopDone:
		return ErrSessionClosed
	}
}

func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		select {
		case req := <-s.reqCh:
			s.execute(req)
		case <-s.idle.C:
			s.idleArmed = false
			slog.Info("idle timeout, yielding connection for other clients", "mac", s.addr)
			s.teardown("idle timeout")
		case conn := <-s.lostCh:
			// Stale events from connections we already tore down are dropped.
			if conn == s.conn {
				slog.Warn("connection lost", "mac", s.addr)
				s.stopIdle()
				s.conn = nil
				s.setState(StateDisconnected)
			}
		case <-s.stopCh:
			s.teardown("session closed")
			return
		}
	}
}

func (s *Session) execute(req *request) {
	ctx, cancel := context.WithTimeout(context.Background(), req.timeout)
	s.cancelMu.Lock()
	s.inflight = cancel
	s.cancelMu.Unlock()

	err := req.run(ctx)

	s.cancelMu.Lock()
	s.inflight = nil
	s.cancelMu.Unlock()
	cancel()

	if err != nil {
		slog.Warn("operation failed", "op", req.name, "mac", s.addr, "error", err)
	}
	req.done <- err
}

// abortInflight fires the cancel func of whatever operation the loop is
// executing, if any.
func (s *Session) abortInflight() {
	s.cancelMu.Lock()
	if s.inflight != nil {
		s.inflight()
	}
	s.cancelMu.Unlock()
}

// doConnect runs on the loop goroutine. Idempotent while connected.
func (s *Session) doConnect(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}
	s.setState(StateConnecting)

	if err := s.adapter.Enable(); err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("%w: enable adapter: %w", ErrConnection, err)
	}

	conn, err := s.adapter.Connect(ctx, s.addr)
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	// Register the loss handler before the handshake so a drop mid-way is
	// observed. The send happens off the transport goroutine.
	conn.OnDisconnect(func() {
		go func() { s.lostCh <- conn }()
	})

	if err := s.handshake(ctx, conn); err != nil {
		conn.Disconnect()
		s.setState(StateDisconnected)
		return err
	}

	s.conn = conn
	s.setState(StateConnected)
	s.resetIdle()
	slog.Info("connected", "mac", s.addr)
	return nil
}

// handshake unlocks the heater and enables notifications in the sniffed
// order. The command channel must be subscribed last.
func (s *Session) handshake(ctx context.Context, conn ble.Connection) error {
	if err := await(ctx, func() error {
		return conn.WriteHandle(HandleUnlock, s.opts.UnlockPayload, true)
	}); err != nil {
		return s.wrapHandshake(err, "unlock write")
	}

	for _, h := range []uint16{HandleNtf1, HandleStatus, HandleCmd} {
		handle := h
		if err := await(ctx, func() error {
			return conn.Subscribe(handle, s.handleNotification)
		}); err != nil {
			return s.wrapHandshake(err, fmt.Sprintf("subscribe %#06x", handle))
		}
	}
	return nil
}

func (s *Session) wrapHandshake(err error, step string) error {
	if isCtxErr(err) {
		return fmt.Errorf("%w: handshake timeout at %s: %w", ErrConnection, step, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrProtocol, step, err)
}

// doWrite runs on the loop goroutine: connect if needed, write the command
// sequence, then reset the idle deadline.
func (s *Session) doWrite(ctx context.Context, cmd Command) error {
	if err := s.doConnect(ctx); err != nil {
		return err
	}

	repeat := cmd.Repeat
	if repeat < 1 {
		repeat = 1
	}
	for i := 0; i < repeat; i++ {
		if err := await(ctx, func() error {
			return s.conn.WriteHandle(cmd.Handle, cmd.Payload, cmd.WithResponse)
		}); err != nil {
			if isCtxErr(err) {
				s.teardown("write timeout")
				return fmt.Errorf("%w: write %#06x: %w", ErrConnection, cmd.Handle, err)
			}
			return fmt.Errorf("%w: write %#06x: %w", ErrProtocol, cmd.Handle, err)
		}
		if i+1 < repeat && cmd.Delay > 0 {
			select {
			case <-ctx.Done():
				s.teardown("write aborted")
				return fmt.Errorf("%w: write %#06x: %w", ErrConnection, cmd.Handle, ctx.Err())
			case <-time.After(cmd.Delay):
			}
		}
	}

	s.resetIdle()
	return nil
}

// teardown runs on the loop goroutine and always leaves the session in
// StateDisconnected with the idle timer cleared.
func (s *Session) teardown(reason string) {
	s.stopIdle()
	if s.conn != nil {
		s.setState(StateDisconnecting)
		if err := s.conn.Disconnect(); err != nil {
			slog.Debug("disconnect error", "mac", s.addr, "error", err)
		}
		s.conn = nil
		slog.Info("disconnected", "mac", s.addr, "reason", reason)
	}
	s.setState(StateDisconnected)
}

func (s *Session) resetIdle() {
	s.stopIdle()
	s.idle.Reset(s.opts.IdleTimeout)
	s.idleArmed = true
}

func (s *Session) stopIdle() {
	if !s.idle.Stop() && s.idleArmed {
		select {
		case <-s.idle.C:
		default:
		}
	}
	s.idleArmed = false
}

func (s *Session) setState(st State) {
	s.statusMu.Lock()
	s.status.State = st
	copied, cb := s.status, s.onChange
	s.statusMu.Unlock()
	if cb != nil {
		cb(copied)
	}
}

// noteCommanded optimistically records the commanded level and opens the
// stale-status window. A later status frame can still overwrite it.
func (s *Session) noteCommanded(pct int) {
	s.statusMu.Lock()
	s.status.Level = pct
	s.expected = pct
	s.expectedSet = true
	s.expectedAt = time.Now()
	copied, cb := s.status, s.onChange
	s.statusMu.Unlock()
	if cb != nil {
		cb(copied)
	}
}

// handleNotification is invoked by the transport layer on its own
// goroutine. It never blocks on the run loop.
func (s *Session) handleNotification(handle uint16, value []byte) {
	switch handle {
	case HandleCmd:
		// The heater confirms a command by echoing its two bytes back; it
		// rarely follows up with a separate status frame.
		slog.Debug("command echoed", "mac", s.addr, "payload", hex.EncodeToString(value))

	case HandleStatus:
		level, ok := DecodeStatus(value)
		if !ok {
			slog.Debug("undecodable status frame", "mac", s.addr, "payload", hex.EncodeToString(value))
			return
		}
		s.statusMu.Lock()
		if s.expectedSet && time.Since(s.expectedAt) < s.opts.ConfirmWindow && level != s.expected {
			s.statusMu.Unlock()
			slog.Debug("ignoring stale status frame", "mac", s.addr, "level", level, "expected", s.expected)
			return
		}
		s.status.Level = level
		s.expectedSet = false
		copied, cb := s.status, s.onChange
		s.statusMu.Unlock()
		slog.Info("heater status", "mac", s.addr, "level", level)
		if cb != nil {
			cb(copied)
		}

	case HandleNtf1:
		slog.Debug("status byte", "mac", s.addr, "payload", hex.EncodeToString(value))

	default:
		slog.Debug("notification on unrecognized handle, discarding",
			"mac", s.addr, "handle", fmt.Sprintf("%#06x", handle))
	}
}

// await runs f on its own goroutine so a hung transport call cannot wedge
// the loop past its deadline. On timeout the goroutine is abandoned; the
// underlying call eventually finishes on its own.
func await(ctx context.Context, f func() error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- f() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func isCtxErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
