// Package mboxsession exposes a local mbox file as a read-only migration
// source holding a single mailbox.
package mboxsession

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/pepperpark/imapcopy/internal/mailboxtree"
	"github.com/pepperpark/imapcopy/internal/session"
)

// Delimiter is reported as the hierarchy delimiter of the mbox mailbox.
const Delimiter = "/"

const chunkSize = 32 * 1024

var (
	errNotOpen    = errors.New("mbox is not open")
	errTerminated = errors.New("mbox session terminated")
)

type Session struct {
	name    string
	path    string
	mailbox string
	log     *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	f        *os.File
	count    int
	selected bool

	goneOnce sync.Once
	gone     chan struct{}
}

// New returns a session reading path and exposing it as mailbox.
func New(name, path, mailbox string, log *slog.Logger) *Session {
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		name:    name,
		path:    path,
		mailbox: mailbox,
		log:     log.With("component", "mbox", "server", name),
		now:     time.Now,
		gone:    make(chan struct{}),
	}
}

func (s *Session) Name() string { return s.name }

// Connect opens the file and counts its messages.
func (s *Session) Connect(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	n := 0
	err = each(f, func(_ int, r io.Reader) error {
		n++
		if _, err := io.Copy(io.Discard, r); err != nil {
			return err
		}
		return ctx.Err()
	})
	if err != nil {
		f.Close()
		return fmt.Errorf("read mbox: %w", err)
	}

	s.mu.Lock()
	s.f, s.count = f, n
	s.mu.Unlock()
	s.log.Info("opened mbox", "path", s.path, "messages", n)
	return nil
}

func (s *Session) ListMailboxes(ctx context.Context) ([]*mailboxtree.Node, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, "", errNotOpen
	}
	return []*mailboxtree.Node{{Name: s.mailbox}}, Delimiter, nil
}

func (s *Session) Select(ctx context.Context, mailbox string, readOnly bool) error {
	if !readOnly {
		return session.ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errNotOpen
	}
	if mailbox != s.mailbox {
		return fmt.Errorf("no such mailbox %q", mailbox)
	}
	s.selected = true
	return nil
}

func (s *Session) Search(ctx context.Context) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.selected {
		return nil, errors.New("no mailbox selected")
	}
	seqs := make([]uint32, s.count)
	for i := range seqs {
		seqs[i] = uint32(i + 1)
	}
	return seqs, nil
}

// Fetch rereads the file and streams the wanted messages. Each message's
// attributes are sent ahead of its body.
func (s *Session) Fetch(ctx context.Context, seqNums []uint32, events chan<- session.FetchEvent) error {
	defer close(events)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.selected {
		return errors.New("no mailbox selected")
	}

	wanted := make(map[uint32]bool, len(seqNums))
	for _, seq := range seqNums {
		wanted[seq] = true
	}

	send := func(ev session.FetchEvent) error {
		select {
		case events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-s.gone:
			return errTerminated
		}
	}

	return each(s.f, func(i int, r io.Reader) error {
		seq := uint32(i + 1)
		if !wanted[seq] {
			return nil
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read message %d: %w", seq, err)
		}
		attrs := s.attributes(raw)
		if err := send(session.FetchEvent{SeqNum: seq, Attributes: &attrs}); err != nil {
			return err
		}
		for off := 0; off < len(raw); off += chunkSize {
			end := off + chunkSize
			if end > len(raw) {
				end = len(raw)
			}
			if err := send(session.FetchEvent{SeqNum: seq, Chunk: raw[off:end]}); err != nil {
				return err
			}
		}
		return send(session.FetchEvent{SeqNum: seq, BodyDone: true})
	})
}

func (s *Session) Append(context.Context, string, []byte, session.Attributes) error {
	return session.ErrReadOnly
}

func (s *Session) Create(context.Context, string) error { return session.ErrReadOnly }

func (s *Session) Subscribe(context.Context, string) error { return session.ErrReadOnly }

func (s *Session) CloseMailbox(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = false
	return nil
}

func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown()
}

// Terminate does not wait for a running Fetch. The Fetch stops at its next
// event and the file is closed once it has returned.
func (s *Session) Terminate() error {
	if !s.mu.TryLock() {
		s.goneOnce.Do(func() { close(s.gone) })
		go func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if err := s.shutdown(); err != nil {
				s.log.Warn("close mbox", "err", err)
			}
		}()
		return nil
	}
	defer s.mu.Unlock()
	return s.shutdown()
}

func (s *Session) shutdown() error {
	var err error
	if s.f != nil {
		err = s.f.Close()
		s.f = nil
	}
	s.goneOnce.Do(func() { close(s.gone) })
	return err
}

func (s *Session) Disconnected() <-chan struct{} { return s.gone }

// attributes takes the date from the Date header and flags from the
// Status and X-Status headers mail clients write into mbox files.
func (s *Session) attributes(raw []byte) session.Attributes {
	attrs := session.Attributes{Flags: []string{}}
	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		attrs.Date = s.now()
		return attrs
	}
	h := mail.Header{Header: message.Header{Header: th}}

	if date, err := h.Date(); err == nil && !date.IsZero() {
		attrs.Date = date
	} else {
		attrs.Date = s.now()
	}
	attrs.Flags = statusFlags(h.Get("Status"), h.Get("X-Status"))
	return attrs
}

func statusFlags(status, xstatus string) []string {
	flags := []string{}
	if strings.ContainsRune(status, 'R') {
		flags = append(flags, `\Seen`)
	}
	for _, m := range []struct {
		c    rune
		flag string
	}{
		{'A', `\Answered`},
		{'F', `\Flagged`},
		{'T', `\Draft`},
		{'D', `\Deleted`},
	} {
		if strings.ContainsRune(xstatus, m.c) {
			flags = append(flags, m.flag)
		}
	}
	return flags
}

// each rewinds f and calls fn for every message in order.
func each(f *os.File, fn func(i int, r io.Reader) error) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := mbox.NewReader(f)
	for i := 0; ; i++ {
		mr, err := r.NextMessage()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(i, mr); err != nil {
			return err
		}
	}
}

var _ session.Session = (*Session)(nil)
