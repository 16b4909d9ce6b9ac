package lobby

import (
	"errors"
	"sync"
)

type pendingCall struct {
	op     string
	target SessionID
	done   func(SessionID, error)
}

type sentMessage struct {
	to      Member
	channel uint8
	payload []byte
}

// fakeProvider records calls and lets tests fire completions explicitly.
type fakeProvider struct {
	mu        sync.Mutex
	self      Member
	calls     []pendingCall
	members   map[SessionID][]Member
	sendFail  map[Member]error
	sent      []sentMessage
	inbox     []Message
	released  int
	responses map[Member]bool
	events    chan Event
	provCalls int
}

func newFakeProvider(self Member) *fakeProvider {
	return &fakeProvider{
		self:      self,
		members:   make(map[SessionID][]Member),
		sendFail:  make(map[Member]error),
		responses: make(map[Member]bool),
		events:    make(chan Event, 16),
	}
}

func (f *fakeProvider) LocalMember() Member { return f.self }

func (f *fakeProvider) CreateSession(vis Visibility, maxMembers int, done func(SessionID, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provCalls++
	f.calls = append(f.calls, pendingCall{op: "create", done: done})
}

func (f *fakeProvider) JoinSession(id SessionID, done func(SessionID, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provCalls++
	f.calls = append(f.calls, pendingCall{op: "join", target: id, done: done})
}

func (f *fakeProvider) MembersOf(id SessionID) []Member {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provCalls++
	return append([]Member(nil), f.members[id]...)
}

func (f *fakeProvider) SendReliable(to Member, channel uint8, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provCalls++
	if err := f.sendFail[to]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{to: to, channel: channel, payload: payload})
	return nil
}

func (f *fakeProvider) ReceivePending(channel uint8, max int) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out, rest []Message
	for _, m := range f.inbox {
		if m.Channel == channel && len(out) < max {
			out = append(out, m)
			continue
		}
		rest = append(rest, m)
	}
	f.inbox = rest
	return out
}

func (f *fakeProvider) RespondPeer(peer Member, accept bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[peer] = accept
}

func (f *fakeProvider) Events() <-chan Event { return f.events }

func (f *fakeProvider) deliver(from Member, channel uint8, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = append(f.inbox, NewMessage(from, channel, []byte(payload), func() {
		f.mu.Lock()
		f.released++
		f.mu.Unlock()
	}))
}

// complete fires the i-th recorded completion on a fresh goroutine and waits for it.
func (f *fakeProvider) complete(i int, id SessionID, err error) {
	f.mu.Lock()
	call := f.calls[i]
	f.mu.Unlock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		call.done(id, err)
	}()
	<-done
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeProvider) totalProviderCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.provCalls
}

var errSendRefused = errors.New("send refused")

// recordingSink captures notifications for assertions.
type recordingSink struct {
	got []Notification
}

func (r *recordingSink) Notify(n Notification) { r.got = append(r.got, n) }

func (r *recordingSink) kinds() []NotificationKind {
	out := make([]NotificationKind, 0, len(r.got))
	for _, n := range r.got {
		out = append(out, n.Kind)
	}
	return out
}
