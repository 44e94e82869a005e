// Package session implements spec §4.B/§4.C: the per-connection
// pending-call table and the Session that owns a single receive loop and
// a serialized send path over one live WebSocket connection. Grounded on
// the teacher's ConnectionWrapper send/receive goroutine split in
// transport/websocket/manager.go, generalized to dispatch CALLs to an
// Inbound Handler Set and CALLRESULT/CALLERROR to waiters instead of a
// Kafka-bound dispatcher.
package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/charging-platform/csms/internal/domain/ocpp16"
	"github.com/charging-platform/csms/internal/domain/ocpp16codec"
	"github.com/charging-platform/csms/internal/domain/ocpperr"
	"github.com/charging-platform/csms/internal/logger"
)

// Transport abstracts the websocket connection so the Session can be
// unit-tested without a real socket. *websocket.Conn satisfies this.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Handler dispatches one inbound CALL to the Inbound Handler Set and
// returns the response payload to be wrapped into a CALLRESULT, or an
// error to be mapped into a CALLERROR.
type Handler interface {
	HandleCall(chargePointID string, action ocpp16.Action, payload json.RawMessage) (interface{}, error)
}

// ActivityObserver is notified on every successful recv, used to update
// the charger's last_heartbeat activity watermark (spec §4.C, last
// paragraph) independent of the OCPP Heartbeat action itself.
type ActivityObserver interface {
	RecordActivity(chargePointID string)
}

// Config carries the knobs the teacher's ProcessorConfig exposed
// (WorkerCount/RequestTimeout), narrowed to what a single Session needs.
type Config struct {
	DefaultCallTimeout time.Duration
	WriteTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultCallTimeout: 30 * time.Second,
		WriteTimeout:       10 * time.Second,
	}
}

// CloseReason records why a session ended, surfaced to the registry's
// disconnect event.
type CloseReason string

const (
	CloseReasonRemote   CloseReason = "remote_close"
	CloseReasonError    CloseReason = "error"
	CloseReasonEvicted  CloseReason = "evicted"
	CloseReasonOperator CloseReason = "operator_disconnect"
	CloseReasonShutdown CloseReason = "shutdown"
)

// Session is one live bidirectional connection for a single charge
// point, per spec §3 "Session state". It owns the send serializer, the
// receive loop, and the pending-call table.
type Session struct {
	ChargePointID string
	Subprotocol   string

	conn    Transport
	pending *pendingCalls
	handler Handler
	logger  *logger.Logger
	config  Config
	metrics Metrics

	activity ActivityObserver

	sendMu    sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	onClose   func(s *Session, reason CloseReason)
}

// Metrics is the narrow surface Session needs from internal/metrics,
// kept as an interface so tests can supply a no-op.
type Metrics interface {
	IncPendingCalls(delta int)
}

// New constructs a Session bound to an already-upgraded transport. The
// subprotocol negotiated during upgrade (or "" if the client didn't
// offer ocpp1.6) is recorded for diagnostics.
func New(chargePointID, subprotocol string, conn Transport, handler Handler, activity ActivityObserver, metrics Metrics, log *logger.Logger, cfg Config) *Session {
	if log == nil {
		log, _ = logger.New(logger.DefaultConfig())
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Session{
		ChargePointID: chargePointID,
		Subprotocol:   subprotocol,
		conn:          conn,
		pending:       newPendingCalls(),
		handler:       handler,
		activity:      activity,
		metrics:       metrics,
		logger:        log,
		config:        cfg,
	}
}

// OnClose registers the callback fired exactly once when the session
// transitions to closed; the registry uses this to unbind itself.
func (s *Session) OnClose(fn func(s *Session, reason CloseReason)) {
	s.onClose = fn
}

// IsClosed reports whether Close has run.
func (s *Session) IsClosed() bool { return s.closed.Load() }

// Run executes the receive loop (spec §4.C steps 1-3) until the
// connection closes or a fatal decode error occurs. It blocks the
// caller; callers run it in its own goroutine per connection.
func (s *Session) Run() {
	defer s.Close(CloseReasonRemote)

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Debugf("session %s read error: %v", s.ChargePointID, err)
			return
		}
		if msgType != 1 { // only text frames carry OCPP-J
			continue
		}

		if s.activity != nil {
			s.activity.RecordActivity(s.ChargePointID)
		}

		frame, err := ocpp16codec.Decode(data)
		if err != nil {
			uid := extractUID(data)
			if uid != "" {
				s.replyFormationViolation(uid, err)
				continue
			}
			s.logger.Warnf("session %s: undecodable frame, closing: %v", s.ChargePointID, err)
			return
		}

		switch frame.Type {
		case ocpp16.Call:
			s.dispatchCall(frame)
		case ocpp16.CallResult, ocpp16.CallError:
			s.resolveWaiter(frame)
		}
	}
}

func extractUID(data []byte) string {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || len(raw) < 2 {
		return ""
	}
	var uid string
	if err := json.Unmarshal(raw[1], &uid); err != nil {
		return ""
	}
	return uid
}

func (s *Session) dispatchCall(frame ocpp16codec.Frame) {
	resp, err := s.handler.HandleCall(s.ChargePointID, frame.Action, frame.Payload)
	if err != nil {
		code, msg, details := mapHandlerError(err)
		if sendErr := s.sendCallError(frame.UID, code, msg, details); sendErr != nil {
			s.logger.Warnf("session %s: failed to send CALLERROR: %v", s.ChargePointID, sendErr)
		}
		return
	}
	if err := s.sendCallResult(frame.UID, resp); err != nil {
		s.logger.Warnf("session %s: failed to send CALLRESULT: %v", s.ChargePointID, err)
	}
}

func mapHandlerError(err error) (ocpperr.Code, string, interface{}) {
	if de, ok := err.(*ocpperr.Error); ok {
		return de.Code, de.Message, de.Details
	}
	return ocpperr.InternalError, err.Error(), nil
}

func (s *Session) replyFormationViolation(uid string, cause error) {
	_ = s.sendCallError(uid, ocpperr.FormationViolation, cause.Error(), nil)
}

func (s *Session) resolveWaiter(frame ocpp16codec.Frame) {
	w := s.pending.pop(frame.UID)
	if w == nil {
		s.logger.Warnf("session %s: reply for unknown uid %s dropped", s.ChargePointID, frame.UID)
		return
	}
	s.metrics.IncPendingCalls(-1)
	if frame.Type == ocpp16.CallError {
		w.done <- Result{ErrorCode: frame.ErrorCode, ErrorDesc: frame.ErrorDescription, Details: frame.ErrorDetails}
		return
	}
	w.done <- Result{Payload: frame.Payload}
}

// Call implements the outbound send contract of spec §4.C: generate a
// fresh uid, install a waiter, send the CALL, and await fulfillment or
// timeout. The single-writer discipline on sendMu ensures outbound bytes
// from concurrent Call invocations never interleave mid-frame.
func (s *Session) Call(action ocpp16.Action, payload interface{}, timeout time.Duration) (Result, error) {
	if s.closed.Load() {
		return Result{}, ErrConnectionLost{ChargePointID: s.ChargePointID}
	}
	if timeout <= 0 {
		timeout = s.config.DefaultCallTimeout
	}

	uid := uuid.NewString()
	data, err := ocpp16codec.EncodeCall(uid, action, payload)
	if err != nil {
		return Result{}, err
	}

	w := s.pending.insert(uid, string(action), timeout, func() {
		s.metrics.IncPendingCalls(-1)
	})
	s.metrics.IncPendingCalls(1)

	if err := s.writeFrame(data); err != nil {
		s.pending.pop(uid)
		s.metrics.IncPendingCalls(-1)
		return Result{}, err
	}

	result := <-w.done
	if result.Err != nil {
		return Result{}, result.Err
	}
	return result, nil
}

func (s *Session) sendCallResult(uid string, payload interface{}) error {
	data, err := ocpp16codec.EncodeCallResult(uid, payload)
	if err != nil {
		return err
	}
	return s.writeFrame(data)
}

func (s *Session) sendCallError(uid string, code ocpperr.Code, description string, details interface{}) error {
	data, err := ocpp16codec.EncodeCallError(uid, string(code), description, details)
	if err != nil {
		return err
	}
	return s.writeFrame(data)
}

// SendRaw transmits an operator-supplied byte string with no waiter
// installed (spec §4.F "raw-bypass send") — no reply correlation is
// attempted.
func (s *Session) SendRaw(data []byte) error {
	return s.writeFrame(data)
}

func (s *Session) writeFrame(data []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed.Load() {
		return ErrConnectionLost{ChargePointID: s.ChargePointID}
	}
	return s.conn.WriteMessage(1, data)
}

// Close is idempotent: it transitions the closed flag, cancels every
// pending waiter with ConnectionLost, and notifies the registry exactly
// once.
func (s *Session) Close(reason CloseReason) {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.pending.cancelAll(ErrConnectionLost{ChargePointID: s.ChargePointID})
		_ = s.conn.Close()
		if s.onClose != nil {
			s.onClose(s, reason)
		}
	})
}

func (s *Session) String() string {
	return fmt.Sprintf("Session{%s}", s.ChargePointID)
}

type noopMetrics struct{}

func (noopMetrics) IncPendingCalls(int) {}
