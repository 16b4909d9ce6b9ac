package lobby

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// NotificationKind discriminates coordinator notifications.
type NotificationKind string

const (
	KindSessionJoined     NotificationKind = "session_joined"
	KindSessionFailed     NotificationKind = "session_failed"
	KindInviteIgnored     NotificationKind = "invite_ignored"
	KindMessageReceived   NotificationKind = "message_received"
	KindPeerAccepted      NotificationKind = "peer_accepted"
	KindPeerRejected      NotificationKind = "peer_rejected"
	KindPeerSessionFailed NotificationKind = "peer_session_failed"
)

// Notification is emitted by the coordinator on the polling goroutine.
// Fields not meaningful for a kind are zero.
type Notification struct {
	Kind    NotificationKind
	Session SessionID
	Member  Member
	Err     error
	Payload []byte
	At      time.Time
}

// Sink consumes notifications. Notify runs on the polling goroutine and
// should not block.
type Sink interface {
	Notify(Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notification)

// Notify calls f(n).
func (f SinkFunc) Notify(n Notification) { f(n) }

// LogSink writes each notification to logger.
func LogSink(logger *zap.Logger) Sink {
	return SinkFunc(func(n Notification) {
		fields := []zap.Field{zap.String("kind", string(n.Kind))}
		if n.Session != 0 {
			fields = append(fields, zap.Stringer("session", n.Session))
		}
		if n.Member != 0 {
			fields = append(fields, zap.Stringer("member", n.Member))
		}
		if n.Payload != nil {
			fields = append(fields, zap.Int("bytes", len(n.Payload)))
		}
		switch n.Kind {
		case KindSessionFailed, KindPeerSessionFailed:
			logger.Warn("lobby notification", append(fields, zap.Error(n.Err))...)
		default:
			logger.Info("lobby notification", fields...)
		}
	})
}

// Recorder buffers notifications until drained. Safe for concurrent use.
type Recorder struct {
	mu  sync.Mutex
	buf []Notification
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Notify appends n to the buffer.
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, n)
}

// Drain returns and clears everything recorded so far, oldest first.
func (r *Recorder) Drain() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.buf
	r.buf = nil
	return out
}
