// Package report renders migration events as human-readable progress lines.
package report

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/pepperpark/imapcopy/internal/planner"
	"github.com/pepperpark/imapcopy/internal/session"
	"github.com/pepperpark/imapcopy/internal/syncer"
)

// Printer writes one line per event. Colors are dropped automatically when
// w is not a terminal.
type Printer struct {
	w       io.Writer
	success lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
	cell    lipgloss.Style
	header  lipgloss.Style
}

func NewPrinter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:       w,
		success: r.NewStyle().Foreground(lipgloss.Color("10")),
		failure: r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		muted:   r.NewStyle().Foreground(lipgloss.Color("244")),
		cell:    r.NewStyle().Padding(0, 1),
		header:  r.NewStyle().Padding(0, 1).Bold(true),
	}
}

// Log prints an uncolored line.
func (p *Printer) Log(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintln(p.w, p.success.Render(fmt.Sprintf(format, args...)))
}

// Error prints err labeled with the step that failed.
func (p *Printer) Error(err error) {
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, p.failure.Render(Describe(err)))
}

// Describe formats err as "message (step)".
func Describe(err error) string {
	var opErr *session.OpError
	if errors.As(err, &opErr) {
		return fmt.Sprintf("%v (%s)", opErr.Err, opErr.Step())
	}
	return fmt.Sprintf("%v (Unknown)", err)
}

// Observe is a syncer.Observer.
func (p *Printer) Observe(ev syncer.Event) {
	switch ev.Type {
	case syncer.EventConnected:
		p.Success("%s server: Connected", ev.Server)
	case syncer.EventDisconnected:
		p.Success("%s server: Disconnected", ev.Server)
	case syncer.EventMailboxesLoaded:
		p.Success("%s server: Boxes loaded (%d)", ev.Server, ev.Mailboxes)
	case syncer.EventPlanReady:
		p.Log("\nStart copying boxes: %d mailbox(es), %d to create", ev.Mailboxes, ev.Creates)
	case syncer.EventMailboxStart:
		p.Log("\nCopying %s", ev.Mailbox)
	case syncer.EventMailboxCreated:
		p.Success("%s server: %s was created", ev.Server, ev.Mailbox)
	case syncer.EventMailboxOpened:
		p.Success("%s server: %s opened", ev.Server, ev.Mailbox)
	case syncer.EventMessagesFound:
		if ev.Total == 0 {
			p.Log("No emails found")
		} else {
			p.Log("Emails to copy: %d", ev.Total)
		}
	case syncer.EventMessageCopied:
		p.Success("Copied email No. %d (%d/%d, %s)", ev.SeqNum, ev.Done, ev.Total, humanize.Bytes(uint64(ev.Size)))
	case syncer.EventMailboxClosed:
		p.Success("%s server: %s closed", ev.Server, ev.Mailbox)
	case syncer.EventDone:
		p.Log("\nAll done, closing connections")
	case syncer.EventFailed:
		p.Error(ev.Err)
	}
}

// PrintPlan renders the plan as a table.
func (p *Printer) PrintPlan(plan planner.Plan) {
	if len(plan) == 0 {
		p.Log("No mailboxes to process.")
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		// Columns are sized to the padded cell, so the text always fits.
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == 0 {
				return p.header
			}
			return p.cell
		}).
		Headers("SOURCE", "DESTINATION", "ACTION")
	for _, task := range plan {
		action := "existing"
		if task.Create {
			action = "create"
		}
		t.Row(task.Source, task.Destination, action)
	}
	fmt.Fprintln(p.w, t.Render())
	p.Log("%s", p.muted.Render(fmt.Sprintf("%d mailbox(es), %d to create", len(plan), plan.Creates())))
}
