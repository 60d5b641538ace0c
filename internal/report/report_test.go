package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pepperpark/imapcopy/internal/planner"
	"github.com/pepperpark/imapcopy/internal/session"
	"github.com/pepperpark/imapcopy/internal/syncer"
)

func TestObserve(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	for _, ev := range []syncer.Event{
		{Type: syncer.EventConnected, Server: "Source"},
		{Type: syncer.EventMailboxStart, Mailbox: "INBOX"},
		{Type: syncer.EventMailboxCreated, Server: "Destination", Mailbox: "INBOX"},
		{Type: syncer.EventMessagesFound, Total: 0},
		{Type: syncer.EventMessagesFound, Total: 2},
		{Type: syncer.EventMessageCopied, SeqNum: 2, Done: 1, Total: 2, Size: 2048},
		{Type: syncer.EventMailboxClosed, Server: "Source", Mailbox: "INBOX"},
		{Type: syncer.EventDone},
	} {
		p.Observe(ev)
	}

	out := buf.String()
	for _, want := range []string{
		"Source server: Connected\n",
		"\nCopying INBOX\n",
		"Destination server: INBOX was created\n",
		"No emails found\n",
		"Emails to copy: 2\n",
		"Copied email No. 2 (1/2, 2.0 kB)\n",
		"Source server: INBOX closed\n",
		"All done, closing connections\n",
	} {
		assert.Contains(t, out, want)
	}
}

func TestDescribe(t *testing.T) {
	err := &session.OpError{Server: "Destination", Op: "Create Mail", Err: errors.New("NO quota")}
	assert.Equal(t, "NO quota (Destination Server: Create Mail)", Describe(err))
	assert.Equal(t, "boom (Unknown)", Describe(errors.New("boom")))
}

func TestErrorLine(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.Observe(syncer.Event{Type: syncer.EventFailed, Err: &session.OpError{Server: "Source", Op: "Connect", Err: errors.New("refused")}})
	assert.Equal(t, "\nrefused (Source Server: Connect)\n", buf.String())
}

func TestPrintPlan(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.PrintPlan(planner.Plan{
		{Source: "INBOX", Destination: "INBOX"},
		{Source: "INBOX/Sent", Destination: "INBOX.Sent", Create: true},
		{Source: "Archive/2017/Projects", Destination: "Archive.2017.Projects", Create: true},
	})

	out := buf.String()
	assert.NotContains(t, out, "…")
	for _, want := range []string{
		"│ INBOX                 │",
		"│ INBOX.Sent            │",
		"│ Archive/2017/Projects │ Archive.2017.Projects │ create   │",
		"│ existing │",
	} {
		assert.Contains(t, out, want)
	}
	assert.True(t, strings.HasSuffix(out, "3 mailbox(es), 2 to create\n"))

	buf.Reset()
	p.PrintPlan(nil)
	assert.Equal(t, "No mailboxes to process.\n", buf.String())
}
