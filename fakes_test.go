package mailer

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var errStoreDown = errors.New("store down")

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type memStore struct {
	mu        sync.Mutex
	msgs      map[ID]Message
	listErr   error
	deleteErr error
	lists     []Filter
	deleted   []ID
	deferred  []ID
}

func newMemStore(msgs ...Message) *memStore {
	s := &memStore{msgs: make(map[ID]Message)}
	for _, msg := range msgs {
		s.put(msg)
	}

	return s
}

func (s *memStore) put(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[msg.ID] = msg
}

func (s *memStore) get(id ID) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.msgs[id]

	return msg, ok
}

func (s *memStore) match(f Filter) []Message {
	var out []Message
	for _, msg := range s.msgs {
		if msg.Mass != f.Mass || msg.Deferred != f.Deferred || !msg.Priority.Valid() {
			continue
		}
		if f.Priority != PriorityAny && msg.Priority != f.Priority {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})

	return out
}

func (s *memStore) List(_ context.Context, f Filter, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists = append(s.lists, f)
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := s.match(f)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (s *memStore) Count(_ context.Context, f Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.match(f)), nil
}

func (s *memStore) MarkDeferred(_ context.Context, id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.msgs[id]
	if ok {
		msg.Deferred = true
		s.msgs[id] = msg
	}
	s.deferred = append(s.deferred, id)

	return nil
}

func (s *memStore) Delete(_ context.Context, id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.msgs, id)
	s.deleted = append(s.deleted, id)

	return nil
}

type memLog struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (l *memLog) Append(_ context.Context, entry LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)

	return nil
}

func (l *memLog) results() []Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Result, 0, len(l.entries))
	for _, entry := range l.entries {
		out = append(out, entry.Result)
	}

	return out
}

// fakeTransport records sends. failures maps a message ID to the error its
// send returns; onSend runs before every send.
type fakeTransport struct {
	mu       sync.Mutex
	opens    int
	closes   int
	creds    []*Credentials
	sent     []ID
	failures map[ID]error
	openErr  error
	onSend   func(Message)
}

func (t *fakeTransport) Open(_ context.Context, creds *Credentials) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens++
	t.creds = append(t.creds, creds)
	if t.openErr != nil {
		return nil, t.openErr
	}

	return &fakeConn{t: t}, nil
}

type fakeConn struct {
	t *fakeTransport
}

func (c *fakeConn) Send(_ context.Context, msg Message) error {
	if c.t.onSend != nil {
		c.t.onSend(msg)
	}
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	if err, ok := c.t.failures[msg.ID]; ok {
		return err
	}
	c.t.sent = append(c.t.sent, msg.ID)

	return nil
}

func (c *fakeConn) Close() error {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	c.t.closes++

	return nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	waits    []time.Duration
	err      error
	releases int
}

func (l *fakeLocker) Acquire(_ context.Context, name string, wait time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waits = append(l.waits, wait)
	if l.err != nil {
		return nil, l.err
	}
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[name] {
		return nil, ErrLockHeld
	}
	l.held[name] = true

	return &fakeLock{locker: l, name: name}, nil
}

func (l *fakeLocker) isHeld(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.held[name]
}

type fakeLock struct {
	locker   *fakeLocker
	name     string
	released bool
}

func (k *fakeLock) Release(context.Context) error {
	k.locker.mu.Lock()
	defer k.locker.mu.Unlock()
	if k.released {
		return nil
	}
	k.released = true
	k.locker.held[k.name] = false
	k.locker.releases++

	return nil
}

type recordingMetrics struct {
	NopMetrics
	sent, deferred, failed, denied int
	queued                         map[Mode]int
}

func (m *recordingMetrics) AddSent(_ Mode, n int)     { m.sent += n }
func (m *recordingMetrics) AddDeferred(_ Mode, n int) { m.deferred += n }
func (m *recordingMetrics) AddFailed(_ Mode, n int)   { m.failed += n }
func (m *recordingMetrics) AddLockDenied(Mode)        { m.denied++ }
func (m *recordingMetrics) SetQueued(mode Mode, n int) {
	if m.queued == nil {
		m.queued = make(map[Mode]int)
	}
	m.queued[mode] = n
}

// testID returns a deterministic id whose last byte is n.
func testID(n byte) ID {
	var id ID
	id[15] = n

	return id
}

var baseTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func testMessage(n byte, priority Priority, minute int) Message {
	return Message{
		ID:         testID(n),
		Priority:   priority,
		EnqueuedAt: baseTime.Add(time.Duration(minute) * time.Minute),
		From:       "noreply@example.com",
		To:         []string{"user@example.com"},
		Subject:    "subject",
		Data:       []byte("Subject: subject\r\n\r\nbody"),
	}
}

func massMessage(n byte, minute int) Message {
	msg := testMessage(n, PriorityMedium, minute)
	msg.Mass = true

	return msg
}
