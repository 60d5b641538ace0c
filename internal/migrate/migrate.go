// Package migrate drives a whole account copy: it owns the source and
// destination sessions, builds the mailbox plan and copies one mailbox at
// a time.
package migrate

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pepperpark/imapcopy/internal/mailboxtree"
	"github.com/pepperpark/imapcopy/internal/planner"
	"github.com/pepperpark/imapcopy/internal/session"
	"github.com/pepperpark/imapcopy/internal/syncer"
)

type Options struct {
	// DryRun stops after the plan is built.
	DryRun   bool
	Observer syncer.Observer
	Logger   *slog.Logger
}

// Orchestrator owns both sessions for the lifetime of one run.
type Orchestrator struct {
	src, dst session.Session
	opts     Options
	log      *slog.Logger

	mu      sync.Mutex
	watched sync.WaitGroup
}

func New(src, dst session.Session, opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{src: src, dst: dst, opts: opts, log: log.With("component", "migrate")}
}

// Run connects both sessions, plans and copies every mailbox, then logs both
// sessions out. On the first error both sessions are terminated and the
// error is returned; nothing is retried.
func (o *Orchestrator) Run(ctx context.Context) (planner.Plan, error) {
	plan, err := o.run(ctx)
	if err != nil {
		o.abort(err)
		return plan, err
	}
	o.closeConnections()
	return plan, nil
}

func (o *Orchestrator) run(ctx context.Context) (planner.Plan, error) {
	if err := o.connect(ctx, o.src); err != nil {
		return nil, err
	}
	if err := o.connect(ctx, o.dst); err != nil {
		return nil, err
	}

	plan, err := o.Plan(ctx)
	if err != nil {
		return nil, err
	}
	if o.opts.DryRun {
		return plan, nil
	}

	copier := syncer.NewMailboxSyncer(o.src, o.dst, syncer.Options{Observer: o.emit, Logger: o.log})
	for _, task := range plan {
		if err := copier.CopyMailbox(ctx, task); err != nil {
			return plan, err
		}
	}
	return plan, nil
}

// Plan loads both mailbox trees and maps the source onto the destination.
// Both sessions must be connected.
func (o *Orchestrator) Plan(ctx context.Context) (planner.Plan, error) {
	srcPaths, srcDelim, err := o.load(ctx, o.src)
	if err != nil {
		return nil, err
	}
	dstPaths, dstDelim, err := o.load(ctx, o.dst)
	if err != nil {
		return nil, err
	}

	plan := planner.Build(srcPaths, srcDelim, dstPaths, dstDelim)
	o.log.Debug("plan built", "tasks", len(plan), "creates", plan.Creates(),
		"source_delimiter", srcDelim, "destination_delimiter", dstDelim)
	o.emit(syncer.Event{Type: syncer.EventPlanReady, Mailboxes: len(plan), Creates: plan.Creates()})
	return plan, nil
}

func (o *Orchestrator) connect(ctx context.Context, s session.Session) error {
	if err := s.Connect(ctx); err != nil {
		return session.NewOpError(s, "Connect", err)
	}
	o.emit(syncer.Event{Type: syncer.EventConnected, Server: s.Name()})

	o.watched.Add(1)
	go func() {
		defer o.watched.Done()
		<-s.Disconnected()
		o.emit(syncer.Event{Type: syncer.EventDisconnected, Server: s.Name()})
	}()
	return nil
}

func (o *Orchestrator) load(ctx context.Context, s session.Session) ([]string, string, error) {
	tree, delim, err := s.ListMailboxes(ctx)
	if err != nil {
		return nil, "", session.NewOpError(s, "Load Boxes", err)
	}
	paths := mailboxtree.Flatten(tree, delim)
	o.emit(syncer.Event{Type: syncer.EventMailboxesLoaded, Server: s.Name(), Mailboxes: len(paths)})
	return paths, delim, nil
}

func (o *Orchestrator) closeConnections() {
	o.emit(syncer.Event{Type: syncer.EventDone})
	if err := o.src.Logout(); err != nil {
		o.log.Warn("logout failed", "server", o.src.Name(), "err", err)
	}
	if err := o.dst.Logout(); err != nil {
		o.log.Warn("logout failed", "server", o.dst.Name(), "err", err)
	}
	o.watched.Wait()
}

func (o *Orchestrator) abort(err error) {
	_ = o.src.Terminate()
	_ = o.dst.Terminate()
	o.watched.Wait()
	o.emit(syncer.Event{Type: syncer.EventFailed, Err: err})
}

// emit serializes observer calls; disconnect notices arrive from watcher
// goroutines.
func (o *Orchestrator) emit(ev syncer.Event) {
	if o.opts.Observer == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opts.Observer(ev)
}
