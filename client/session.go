/*
Package client implements the session adapter consumed by editor frontends and
tooling that speak the collaboration protocol from Go.

A Session owns one connection to the server and drives the full lifecycle:
connect, credential handshake, document join/leave on navigation, application of
remote events with echo suppression, debouncing of high-frequency live edits,
and reconnection with capped exponential backoff after transport loss.
*/
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"codecollab/internal/pkg/logx"
	"codecollab/protocol"
)

// State is the session's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnectedNoRoom
	StateConnectedInRoom
)

// String returns the state name for logs and connectivity indicators.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnectedNoRoom:
		return "connected"
	case StateConnectedInRoom:
		return "in-room"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	// DefaultDebounceWindow is the quiet period after which a buffered live
	// edit is flushed.
	DefaultDebounceWindow = 300 * time.Millisecond

	defaultReconnectMinDelay = time.Second
	defaultReconnectMaxDelay = 30 * time.Second

	clientWriteWait = 10 * time.Second

	// clientReadWait must outlast the server's ping period.
	clientReadWait = 75 * time.Second
)

// ErrNotConnected is returned when an emit is attempted without a live transport.
var ErrNotConnected = errors.New("session is not connected")

// ErrAuthRejected is reported when the server refuses the credential. The
// session stops; reconnecting with the same credential would be refused again.
var ErrAuthRejected = errors.New("credential rejected by server")

// Handlers holds the application callbacks for server events. Nil entries are
// skipped. Callbacks run on the session's read goroutine; they must not block.
type Handlers struct {
	OnDocumentChange  func(protocol.DocumentChangePayload)
	OnCursorPosition  func(protocol.CursorPositionPayload)
	OnSelectionChange func(protocol.SelectionChangePayload)
	OnActiveUsers     func([]protocol.Identity)
	OnUserJoined      func(protocol.Identity)
	OnUserLeft        func(userID string)
	OnStateChange     func(State)
	OnAuthError       func(error)
}

// Options configures a Session.
type Options struct {
	// URL is the WebSocket endpoint, e.g. ws://localhost:7001/ws.
	URL string

	// Token is the signed credential presented in the handshake.
	Token string

	// Identity is the local user's identity, used to suppress echo of the
	// session's own relayed events. It must match the token's claims.
	Identity protocol.Identity

	// DebounceWindow overrides DefaultDebounceWindow when positive.
	DebounceWindow time.Duration

	// Reconnect backoff bounds; defaults apply when zero.
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration

	Handlers Handlers
}

// Session is a per-tab collaboration session. All methods are safe for
// concurrent use.
type Session struct {
	opts   Options
	logger zerolog.Logger

	// mu protects the fields below.
	mu          sync.Mutex
	state       State
	ws          *websocket.Conn
	documentID  string
	activeUsers []protocol.Identity
	pending     *protocol.DocumentChangePayload
	pendingGen  int
	flushTimer  *time.Timer

	// writeMu serializes frame writes; gorilla connections allow one writer.
	writeMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Session. Start must be called to begin connecting.
func New(opts Options) (*Session, error) {
	if opts.URL == "" {
		return nil, errors.New("client: URL is required")
	}
	if opts.Token == "" {
		return nil, errors.New("client: Token is required")
	}
	if opts.Identity.ID == "" {
		return nil, errors.New("client: Identity.ID is required")
	}

	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultDebounceWindow
	}
	if opts.ReconnectMinDelay <= 0 {
		opts.ReconnectMinDelay = defaultReconnectMinDelay
	}
	if opts.ReconnectMaxDelay < opts.ReconnectMinDelay {
		opts.ReconnectMaxDelay = defaultReconnectMaxDelay
	}

	return &Session{
		opts:   opts,
		logger: logx.Logger().With().Str("component", "client").Str("user_id", opts.Identity.ID).Logger(),
		state:  StateDisconnected,
		done:   make(chan struct{}),
	}, nil
}

// Start launches the session's connect/reconnect loop. It returns immediately;
// the loop runs until Close is called, the context is canceled, or the server
// rejects the credential.
func (s *Session) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(runCtx)
}

// Close stops the session and waits for the loop to exit. Closing a session
// that was never started is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	cancel := s.cancel
	ws := s.ws
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	if ws != nil {
		// Unblocks the read loop promptly.
		ws.Close()
	}

	<-s.done
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ActiveUsers returns the last known presence list for the active document.
// It is cleared (treated stale) whenever the transport drops.
func (s *Session) ActiveUsers() []protocol.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]protocol.Identity, len(s.activeUsers))
	copy(users, s.activeUsers)
	return users
}

// Connected reports whether the transport is currently up.
func (s *Session) Connected() bool {
	state := s.State()
	return state == StateConnectedNoRoom || state == StateConnectedInRoom
}

// run is the connect/reconnect loop.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(StateDisconnected)

	delay := s.opts.ReconnectMinDelay

	for {
		s.setState(StateConnecting)

		ws, err := s.dial(ctx)
		if err != nil {
			if errors.Is(err, ErrAuthRejected) {
				s.logger.Error().Err(err).Msg("Handshake rejected; stopping session.")
				if s.opts.Handlers.OnAuthError != nil {
					s.opts.Handlers.OnAuthError(err)
				}
				return
			}

			s.setState(StateDisconnected)
			s.logger.Warn().Err(err).Dur("retry_in", delay).Msg("Connect failed.")

			if !sleep(ctx, delay) {
				return
			}
			delay = nextDelay(delay, s.opts.ReconnectMaxDelay)
			continue
		}

		delay = s.opts.ReconnectMinDelay

		s.mu.Lock()
		s.ws = ws
		documentID := s.documentID
		s.mu.Unlock()

		s.setState(StateConnectedNoRoom)
		s.logger.Info().Msg("Connected to collaboration server.")

		// Server-side membership was dropped with the previous connection;
		// rejoin the active document.
		if documentID != "" {
			if err := s.write(protocol.TypeJoinDocument, protocol.JoinDocumentPayload{DocumentID: documentID}); err == nil {
				s.setState(StateConnectedInRoom)
			}
		}

		s.readLoop(ws)
		s.handleTransportLoss()

		if ctx.Err() != nil {
			return
		}

		if !sleep(ctx, delay) {
			return
		}
		delay = nextDelay(delay, s.opts.ReconnectMaxDelay)
	}
}

// dial performs the credential handshake. An HTTP 401/403 answer means the
// credential itself was refused; that is terminal for the session.
func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.opts.Token)

	ws, httpResp, err := websocket.DefaultDialer.DialContext(ctx, s.opts.URL, header)
	if err != nil {
		if httpResp != nil && (httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: HTTP %d", ErrAuthRejected, httpResp.StatusCode)
		}
		return nil, err
	}

	return ws, nil
}

// readLoop consumes server frames until the transport fails.
func (s *Session) readLoop(ws *websocket.Conn) {
	ws.SetReadDeadline(time.Now().Add(clientReadWait))
	ws.SetPingHandler(func(appData string) error {
		ws.SetReadDeadline(time.Now().Add(clientReadWait))

		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(clientWriteWait))
		if err != nil && err != websocket.ErrCloseSent {
			return err
		}
		return nil
	})

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info().Err(err).Msg("Transport closed.")
			}
			return
		}

		s.dispatch(frame)
	}
}

// dispatch applies one server event, suppressing echo of the session's own changes.
func (s *Session) dispatch(frame []byte) {
	var envelope protocol.Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		s.logger.Warn().Err(err).Msg("Server sent invalid JSON frame")
		return
	}

	switch envelope.Type {
	case protocol.TypeActiveUsers:
		var users []protocol.Identity
		if err := json.Unmarshal(envelope.Payload, &users); err != nil {
			s.logger.Warn().Err(err).Msg("Invalid active-users payload")
			return
		}

		s.mu.Lock()
		s.activeUsers = users
		s.mu.Unlock()

		if s.opts.Handlers.OnActiveUsers != nil {
			s.opts.Handlers.OnActiveUsers(users)
		}

	case protocol.TypeUserJoined:
		payload, err := protocol.Decode[protocol.UserJoinedPayload](envelope.Payload)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Invalid user-joined payload")
			return
		}

		s.mu.Lock()
		if !containsUser(s.activeUsers, payload.User.ID) {
			s.activeUsers = append(s.activeUsers, payload.User)
		}
		s.mu.Unlock()

		if s.opts.Handlers.OnUserJoined != nil {
			s.opts.Handlers.OnUserJoined(payload.User)
		}

	case protocol.TypeUserLeft:
		payload, err := protocol.Decode[protocol.UserLeftPayload](envelope.Payload)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Invalid user-left payload")
			return
		}

		s.mu.Lock()
		s.activeUsers = removeUser(s.activeUsers, payload.UserID)
		s.mu.Unlock()

		if s.opts.Handlers.OnUserLeft != nil {
			s.opts.Handlers.OnUserLeft(payload.UserID)
		}

	case protocol.TypeDocumentChange:
		payload, err := protocol.Decode[protocol.DocumentChangePayload](envelope.Payload)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Invalid document-change payload")
			return
		}
		if payload.SenderID() == s.opts.Identity.ID {
			return
		}
		if s.opts.Handlers.OnDocumentChange != nil {
			s.opts.Handlers.OnDocumentChange(*payload)
		}

	case protocol.TypeCursorPosition:
		payload, err := protocol.Decode[protocol.CursorPositionPayload](envelope.Payload)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Invalid cursor-position payload")
			return
		}
		if payload.SenderID() == s.opts.Identity.ID {
			return
		}
		if s.opts.Handlers.OnCursorPosition != nil {
			s.opts.Handlers.OnCursorPosition(*payload)
		}

	case protocol.TypeSelectionChange:
		payload, err := protocol.Decode[protocol.SelectionChangePayload](envelope.Payload)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Invalid selection-change payload")
			return
		}
		if payload.SenderID() == s.opts.Identity.ID {
			return
		}
		if s.opts.Handlers.OnSelectionChange != nil {
			s.opts.Handlers.OnSelectionChange(*payload)
		}

	case protocol.TypeError:
		payload, err := protocol.Decode[protocol.ErrorPayload](envelope.Payload)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Invalid error payload")
			return
		}
		s.logger.Warn().Int("code", payload.Code).Str("message", payload.Message).Msg("Server error event")

	default:
		s.logger.Warn().Str("msg_type", string(envelope.Type)).Msg("Server sent unsupported message type")
	}
}

// handleTransportLoss clears state that is stale without a connection: the
// presence list and any pending debounced edit. The autosave path is
// independent and reconciles durable state separately.
func (s *Session) handleTransportLoss() {
	s.mu.Lock()
	s.ws = nil
	s.activeUsers = nil
	s.pending = nil
	s.pendingGen++
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.mu.Unlock()

	s.setState(StateDisconnected)
}

// setState updates the state and notifies the OnStateChange handler on changes.
func (s *Session) setState(state State) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()

	if changed && s.opts.Handlers.OnStateChange != nil {
		s.opts.Handlers.OnStateChange(state)
	}
}

// write encodes and sends one frame on the live transport.
func (s *Session) write(msgType protocol.Type, payload any) error {
	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()

	if ws == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ws.SetWriteDeadline(time.Now().Add(clientWriteWait))
	return ws.WriteMessage(websocket.TextMessage, frame)
}

// sleep waits for the delay unless the context ends first.
func sleep(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// nextDelay doubles the backoff up to the cap.
func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		next = max
	}
	return next
}

func containsUser(users []protocol.Identity, userID string) bool {
	for _, u := range users {
		if u.ID == userID {
			return true
		}
	}
	return false
}

func removeUser(users []protocol.Identity, userID string) []protocol.Identity {
	filtered := users[:0]
	for _, u := range users {
		if u.ID != userID {
			filtered = append(filtered, u)
		}
	}
	return filtered
}
