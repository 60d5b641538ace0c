package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/pepperpark/imapcopy/internal/planner"
	"github.com/pepperpark/imapcopy/internal/session"
)

// ErrFetchIncomplete is returned when the source fetch stream ends before
// every searched message was appended to the destination.
var ErrFetchIncomplete = errors.New("fetch ended before all messages arrived")

// fetchBuffer bounds how far the source stream may run ahead of appends.
const fetchBuffer = 64

type Options struct {
	Observer Observer
	Logger   *slog.Logger
}

// MailboxSyncer copies single mailboxes between two borrowed sessions. It
// never logs either session out.
type MailboxSyncer struct {
	src, dst session.Session
	opts     Options
	log      *slog.Logger
}

func NewMailboxSyncer(src, dst session.Session, opts Options) *MailboxSyncer {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &MailboxSyncer{src: src, dst: dst, opts: opts, log: log.With("component", "syncer")}
}

// CopyMailbox runs one task to completion: it creates the destination
// mailbox if the task asks for it, opens both mailboxes, appends every
// source message and closes both mailboxes again. The first error is
// returned as a *session.OpError and leaves the mailboxes open.
func (m *MailboxSyncer) CopyMailbox(ctx context.Context, task planner.Task) error {
	m.emit(Event{Type: EventMailboxStart, Mailbox: task.Source})

	if task.Create {
		if err := m.dst.Create(ctx, task.Destination); err != nil {
			return session.NewOpError(m.dst, "Create Box", err)
		}
		if err := m.dst.Subscribe(ctx, task.Destination); err != nil {
			return session.NewOpError(m.dst, "Subscribe Box", err)
		}
		m.emit(Event{Type: EventMailboxCreated, Server: m.dst.Name(), Mailbox: task.Destination})
	}

	if err := m.src.Select(ctx, task.Source, true); err != nil {
		return session.NewOpError(m.src, "Open Box", err)
	}
	m.emit(Event{Type: EventMailboxOpened, Server: m.src.Name(), Mailbox: task.Source})

	if err := m.dst.Select(ctx, task.Destination, false); err != nil {
		return session.NewOpError(m.dst, "Open Box", err)
	}
	m.emit(Event{Type: EventMailboxOpened, Server: m.dst.Name(), Mailbox: task.Destination})

	if err := m.copyMessages(ctx, task); err != nil {
		return err
	}

	if err := m.dst.CloseMailbox(ctx); err != nil {
		return session.NewOpError(m.dst, "Close Box", err)
	}
	m.emit(Event{Type: EventMailboxClosed, Server: m.dst.Name(), Mailbox: task.Destination})

	if err := m.src.CloseMailbox(ctx); err != nil {
		return session.NewOpError(m.src, "Close Box", err)
	}
	m.emit(Event{Type: EventMailboxClosed, Server: m.src.Name(), Mailbox: task.Source})
	return nil
}

func (m *MailboxSyncer) copyMessages(ctx context.Context, task planner.Task) error {
	seqs, err := m.src.Search(ctx)
	if err != nil {
		return session.NewOpError(m.src, "Search Mails", err)
	}
	m.emit(Event{Type: EventMessagesFound, Mailbox: task.Source, Total: len(seqs)})
	if len(seqs) == 0 {
		return nil
	}

	events := make(chan session.FetchEvent, fetchBuffer)
	g, gctx := errgroup.WithContext(ctx)

	var fetchErr error
	g.Go(func() error {
		if err := m.src.Fetch(gctx, seqs, events); err != nil {
			fetchErr = session.NewOpError(m.src, "Fetch Mail", err)
			return fetchErr
		}
		return nil
	})
	g.Go(func() error {
		return m.appendAll(gctx, task, seqs, events)
	})

	err = g.Wait()
	if errors.Is(err, ErrFetchIncomplete) && fetchErr != nil {
		return fetchErr
	}
	return err
}

// appendAll correlates fetch events per message and appends each message
// as soon as both its body and its attributes have arrived.
func (m *MailboxSyncer) appendAll(ctx context.Context, task planner.Task, seqs []uint32, events <-chan session.FetchEvent) error {
	pending := make(map[uint32]*envelope, len(seqs))
	for _, seq := range seqs {
		pending[seq] = &envelope{}
	}
	total := len(seqs)
	remaining := total

	for remaining > 0 {
		var ev session.FetchEvent
		var ok bool
		select {
		case ev, ok = <-events:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !ok {
			return session.NewOpError(m.src, "Fetch Mail",
				fmt.Errorf("%w: %d of %d outstanding", ErrFetchIncomplete, remaining, total))
		}

		env, tracked := pending[ev.SeqNum]
		if !tracked {
			m.log.Debug("ignoring fetch data", "mailbox", task.Source, "seq", ev.SeqNum)
			continue
		}
		env.add(ev)
		if !env.ready() {
			continue
		}
		delete(pending, ev.SeqNum)

		if err := m.dst.Append(ctx, task.Destination, env.raw.Bytes(), *env.attrs); err != nil {
			return session.NewOpError(m.dst, "Create Mail", fmt.Errorf("message %d: %w", ev.SeqNum, err))
		}
		remaining--
		m.log.Debug("appended", "mailbox", task.Destination, "seq", ev.SeqNum, "flags", env.attrs.Flags)
		m.emit(Event{
			Type:    EventMessageCopied,
			Mailbox: task.Source,
			SeqNum:  ev.SeqNum,
			Size:    env.raw.Len(),
			Total:   total,
			Done:    total - remaining,
		})
	}

	// Let the fetch stream run to completion.
	for range events {
	}
	return nil
}

func (m *MailboxSyncer) emit(ev Event) {
	if m.opts.Observer != nil {
		m.opts.Observer(ev)
	}
}

// envelope is one in-flight message. It is complete once the body is
// finished and the attributes are known, in whichever order they came.
type envelope struct {
	raw      bytes.Buffer
	attrs    *session.Attributes
	bodyDone bool
}

func (e *envelope) add(ev session.FetchEvent) {
	if ev.Attributes != nil && e.attrs == nil {
		e.attrs = ev.Attributes
	}
	if len(ev.Chunk) > 0 && !e.bodyDone {
		e.raw.Write(ev.Chunk)
	}
	if ev.BodyDone {
		e.bodyDone = true
	}
}

func (e *envelope) ready() bool { return e.attrs != nil && e.bodyDone }
