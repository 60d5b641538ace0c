package imaputil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/pepperpark/imapcopy/internal/config"
	"github.com/pepperpark/imapcopy/internal/mailboxtree"
	"github.com/pepperpark/imapcopy/internal/session"
)

// chunkSize is the size of the body slices handed to the copy engine.
const chunkSize = 32 * 1024

var errNotConnected = errors.New("not connected")

// Session is a session.Session backed by a go-imap client. All commands
// are serialized by mu; the keep-alive only issues NOOP while the
// connection is otherwise idle.
type Session struct {
	name      string
	acct      config.Account
	keepalive time.Duration
	log       *slog.Logger

	mu   sync.Mutex
	conn atomic.Pointer[client.Client]

	stopOnce sync.Once
	stop     chan struct{}
	goneOnce sync.Once
	gone     chan struct{}
}

// NewSession prepares a session; nothing is dialed until Connect. A zero
// keepalive disables the heartbeat.
func NewSession(name string, acct config.Account, keepalive time.Duration, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		name:      name,
		acct:      acct,
		keepalive: keepalive,
		log:       log.With("component", "imap", "server", name),
		stop:      make(chan struct{}),
		gone:      make(chan struct{}),
	}
}

func (s *Session) Name() string { return s.name }

func (s *Session) Connect(ctx context.Context) error {
	c, err := DialAndLogin(ctx, s.acct)
	if err != nil {
		return err
	}
	s.conn.Store(c)
	s.log.Info("connected", "account", s.acct.String())

	go func() {
		<-c.LoggedOut()
		s.log.Info("disconnected")
		s.stopKeepAlive()
		s.goneOnce.Do(func() { close(s.gone) })
	}()
	if s.keepalive > 0 {
		go s.heartbeat(c)
	}
	return nil
}

func (s *Session) heartbeat(c *client.Client) {
	t := time.NewTicker(s.keepalive)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			if !s.mu.TryLock() {
				continue
			}
			err := c.Noop()
			s.mu.Unlock()
			if err != nil {
				s.log.Debug("keepalive failed", "err", err)
			}
		}
	}
}

func (s *Session) stopKeepAlive() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// acquire locks the session for one command.
func (s *Session) acquire(ctx context.Context) (*client.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	c := s.conn.Load()
	if c == nil {
		s.mu.Unlock()
		return nil, errNotConnected
	}
	return c, nil
}

func (s *Session) ListMailboxes(ctx context.Context) ([]*mailboxtree.Node, string, error) {
	c, err := s.acquire(ctx)
	if err != nil {
		return nil, "", err
	}
	defer s.mu.Unlock()

	names, delim, err := ListMailboxes(ctx, c)
	if err != nil {
		return nil, "", err
	}
	s.log.Debug("listed mailboxes", "count", len(names), "delimiter", delim)
	return mailboxtree.BuildTree(names, delim), delim, nil
}

func (s *Session) Select(ctx context.Context, mailbox string, readOnly bool) error {
	c, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	_, err = c.Select(mailbox, readOnly)
	return err
}

func (s *Session) Search(ctx context.Context) ([]uint32, error) {
	c, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return SearchAll(c)
}

func (s *Session) Fetch(ctx context.Context, seqNums []uint32, events chan<- session.FetchEvent) error {
	defer close(events)
	c, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	seqset := new(imap.SeqSet)
	seqset.AddNum(seqNums...)
	section := &imap.BodySectionName{}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchInternalDate, imap.FetchFlags}

	msgs := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, msgs)
	}()

	conv := newConverter()
	for msg := range msgs {
		if msg == nil {
			continue
		}
		for _, ev := range conv.events(msg) {
			select {
			case events <- ev:
			case <-ctx.Done():
				// The client blocks until its channel is drained.
				go func() {
					for range msgs {
					}
				}()
				return ctx.Err()
			}
		}
	}
	return <-done
}

func (s *Session) Append(ctx context.Context, mailbox string, raw []byte, attrs session.Attributes) error {
	c, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	return c.Append(mailbox, withoutRecent(attrs.Flags), attrs.Date, bytes.NewReader(raw))
}

func (s *Session) Create(ctx context.Context, mailbox string) error {
	c, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	return c.Create(mailbox)
}

func (s *Session) Subscribe(ctx context.Context, mailbox string) error {
	c, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	return c.Subscribe(mailbox)
}

func (s *Session) CloseMailbox(ctx context.Context) error {
	c, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	return c.Close()
}

func (s *Session) Logout() error {
	s.stopKeepAlive()
	c, err := s.acquire(context.Background())
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	return c.Logout()
}

// Terminate closes the connection without waiting for running commands.
func (s *Session) Terminate() error {
	s.stopKeepAlive()
	c := s.conn.Load()
	if c == nil {
		// Connect never succeeded, so nothing watches LoggedOut.
		s.goneOnce.Do(func() { close(s.gone) })
		return nil
	}
	return c.Terminate()
}

func (s *Session) Disconnected() <-chan struct{} { return s.gone }

var _ session.Session = (*Session)(nil)

// converter turns FETCH responses into fetch events. Servers may answer
// one message with several FETCH responses, so attribute halves are kept
// until both the flags and the internal date of a message are known.
type converter struct {
	flags map[uint32][]string
	dates map[uint32]time.Time
	sent  map[uint32]bool
}

func newConverter() *converter {
	return &converter{
		flags: map[uint32][]string{},
		dates: map[uint32]time.Time{},
		sent:  map[uint32]bool{},
	}
}

func (cv *converter) events(msg *imap.Message) []session.FetchEvent {
	var out []session.FetchEvent
	seq := msg.SeqNum

	if _, ok := msg.Items[imap.FetchFlags]; ok {
		cv.flags[seq] = append([]string(nil), msg.Flags...)
	}
	if _, ok := msg.Items[imap.FetchInternalDate]; ok {
		cv.dates[seq] = msg.InternalDate
	}
	flags, hasFlags := cv.flags[seq]
	date, hasDate := cv.dates[seq]
	if hasFlags && hasDate && !cv.sent[seq] {
		cv.sent[seq] = true
		if flags == nil {
			flags = []string{}
		}
		out = append(out, session.FetchEvent{SeqNum: seq, Attributes: &session.Attributes{Date: date, Flags: flags}})
	}

	for _, lit := range msg.Body {
		if lit == nil {
			continue
		}
		out = append(out, chunk(seq, lit)...)
	}
	return out
}

func chunk(seq uint32, r io.Reader) []session.FetchEvent {
	var out []session.FetchEvent
	for {
		buf := make([]byte, chunkSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			out = append(out, session.FetchEvent{SeqNum: seq, Chunk: buf[:n]})
		}
		if err != nil {
			break
		}
	}
	return append(out, session.FetchEvent{SeqNum: seq, BodyDone: true})
}
