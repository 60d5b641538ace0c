// Package sessiontest provides an in-memory session.Session for tests.
package sessiontest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pepperpark/imapcopy/internal/mailboxtree"
	"github.com/pepperpark/imapcopy/internal/session"
)

// Message is a stored message.
type Message struct {
	Raw   []byte
	Date  time.Time
	Flags []string
}

// Session is a fake mail account. Mailboxes are kept in creation order.
type Session struct {
	name      string
	Delimiter string

	// Errors injects failures keyed by "Op" or "Op arg", for example
	// "Connect", "Create INBOX.Sent" or "Append 3" (the third append).
	Errors map[string]error
	// AttrsLast sends the attributes of these sequence numbers after the
	// body instead of before it.
	AttrsLast map[uint32]bool
	// Interleave round-robins the events of all fetched messages.
	Interleave bool
	// ChunkSize splits bodies into chunks of this many bytes.
	ChunkSize int

	mu         sync.Mutex
	order      []string
	boxes      map[string][]Message
	subscribed map[string]bool
	selected   string
	readOnly   bool
	appends    int
	calls      []string
	connected  bool
	loggedOut  bool
	terminated bool
	gone       chan struct{}
	goneOnce   sync.Once
}

// New returns an empty fake account.
func New(name, delim string) *Session {
	return &Session{
		name:       name,
		Delimiter:  delim,
		Errors:     map[string]error{},
		AttrsLast:  map[uint32]bool{},
		ChunkSize:  4,
		boxes:      map[string][]Message{},
		subscribed: map[string]bool{},
		gone:       make(chan struct{}),
	}
}

// AddMailbox creates a mailbox holding msgs.
func (s *Session) AddMailbox(name string, msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boxes[name]; !ok {
		s.order = append(s.order, name)
	}
	s.boxes[name] = append(s.boxes[name], msgs...)
}

// Mailboxes returns mailbox names in creation order.
func (s *Session) Mailboxes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Messages returns the messages stored in a mailbox.
func (s *Session) Messages(name string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.boxes[name]...)
}

// Subscribed reports whether a mailbox was subscribed.
func (s *Session) Subscribed(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed[name]
}

// Calls returns every operation in call order, formatted "Op arg".
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// LoggedOut reports whether Logout was called.
func (s *Session) LoggedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedOut
}

// Terminated reports whether Terminate was called.
func (s *Session) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

func (s *Session) record(op, arg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := op
	if arg != "" {
		call += " " + arg
	}
	s.calls = append(s.calls, call)
	if s.terminated {
		return fmt.Errorf("%s: connection terminated", op)
	}
	if err, ok := s.Errors[call]; ok {
		return err
	}
	if err, ok := s.Errors[op]; ok {
		return err
	}
	return nil
}

func (s *Session) Name() string { return s.name }

func (s *Session) Connect(ctx context.Context) error {
	if err := s.record("Connect", ""); err != nil {
		return err
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *Session) ListMailboxes(ctx context.Context) ([]*mailboxtree.Node, string, error) {
	if err := s.record("List", ""); err != nil {
		return nil, "", err
	}
	return mailboxtree.BuildTree(s.Mailboxes(), s.Delimiter), s.Delimiter, nil
}

func (s *Session) Select(ctx context.Context, mailbox string, readOnly bool) error {
	if err := s.record("Select", mailbox); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boxes[mailbox]; !ok {
		return fmt.Errorf("select %s: no such mailbox", mailbox)
	}
	s.selected, s.readOnly = mailbox, readOnly
	return nil
}

func (s *Session) Search(ctx context.Context) ([]uint32, error) {
	if err := s.record("Search", ""); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var seqs []uint32
	for i := range s.boxes[s.selected] {
		seqs = append(seqs, uint32(i+1))
	}
	return seqs, nil
}

func (s *Session) Fetch(ctx context.Context, seqNums []uint32, events chan<- session.FetchEvent) error {
	defer close(events)
	if err := s.record("Fetch", ""); err != nil {
		return err
	}

	s.mu.Lock()
	msgs := s.boxes[s.selected]
	var streams [][]session.FetchEvent
	for _, seq := range seqNums {
		if seq == 0 || int(seq) > len(msgs) {
			s.mu.Unlock()
			return fmt.Errorf("fetch: invalid sequence number %d", seq)
		}
		streams = append(streams, s.messageEvents(seq, msgs[seq-1]))
	}
	s.mu.Unlock()

	for _, ev := range merge(streams, s.Interleave) {
		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Session) messageEvents(seq uint32, m Message) []session.FetchEvent {
	attrs := session.FetchEvent{SeqNum: seq, Attributes: &session.Attributes{
		Date:  m.Date,
		Flags: append([]string(nil), m.Flags...),
	}}

	var body []session.FetchEvent
	size := s.ChunkSize
	if size <= 0 {
		size = len(m.Raw) + 1
	}
	for off := 0; off < len(m.Raw); off += size {
		end := off + size
		if end > len(m.Raw) {
			end = len(m.Raw)
		}
		body = append(body, session.FetchEvent{SeqNum: seq, Chunk: append([]byte(nil), m.Raw[off:end]...)})
	}
	body = append(body, session.FetchEvent{SeqNum: seq, BodyDone: true})

	if s.AttrsLast[seq] {
		return append(body, attrs)
	}
	return append([]session.FetchEvent{attrs}, body...)
}

func merge(streams [][]session.FetchEvent, interleave bool) []session.FetchEvent {
	var out []session.FetchEvent
	if !interleave {
		for _, st := range streams {
			out = append(out, st...)
		}
		return out
	}
	for i := 0; ; i++ {
		more := false
		for _, st := range streams {
			if i < len(st) {
				out = append(out, st[i])
				more = true
			}
		}
		if !more {
			return out
		}
	}
}

func (s *Session) Append(ctx context.Context, mailbox string, raw []byte, attrs session.Attributes) error {
	s.mu.Lock()
	s.appends++
	n := s.appends
	s.mu.Unlock()
	if err := s.record("Append", fmt.Sprint(n)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boxes[mailbox]; !ok {
		return fmt.Errorf("append %s: no such mailbox", mailbox)
	}
	flags := append([]string(nil), attrs.Flags...)
	s.boxes[mailbox] = append(s.boxes[mailbox], Message{
		Raw:   append([]byte(nil), raw...),
		Date:  attrs.Date,
		Flags: flags,
	})
	return nil
}

func (s *Session) Create(ctx context.Context, mailbox string) error {
	if err := s.record("Create", mailbox); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boxes[mailbox]; ok {
		return fmt.Errorf("create %s: mailbox already exists", mailbox)
	}
	s.order = append(s.order, mailbox)
	s.boxes[mailbox] = nil
	return nil
}

func (s *Session) Subscribe(ctx context.Context, mailbox string) error {
	if err := s.record("Subscribe", mailbox); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed[mailbox] = true
	return nil
}

func (s *Session) CloseMailbox(ctx context.Context) error {
	s.mu.Lock()
	selected := s.selected
	s.mu.Unlock()
	if err := s.record("Close", selected); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = ""
	return nil
}

func (s *Session) Logout() error {
	err := s.record("Logout", "")
	s.mu.Lock()
	s.loggedOut = true
	s.mu.Unlock()
	s.goneOnce.Do(func() { close(s.gone) })
	return err
}

func (s *Session) Terminate() error {
	s.mu.Lock()
	s.calls = append(s.calls, "Terminate")
	s.terminated = true
	s.mu.Unlock()
	s.goneOnce.Do(func() { close(s.gone) })
	return nil
}

func (s *Session) Disconnected() <-chan struct{} { return s.gone }

// CallsWithPrefix filters Calls by operation name.
func (s *Session) CallsWithPrefix(op string) []string {
	var out []string
	for _, c := range s.Calls() {
		if c == op || strings.HasPrefix(c, op+" ") {
			out = append(out, c)
		}
	}
	return out
}

var _ session.Session = (*Session)(nil)
