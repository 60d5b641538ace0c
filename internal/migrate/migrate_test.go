package migrate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepperpark/imapcopy/internal/planner"
	"github.com/pepperpark/imapcopy/internal/session"
	"github.com/pepperpark/imapcopy/internal/session/sessiontest"
	"github.com/pepperpark/imapcopy/internal/syncer"
)

type recorder struct {
	mu     sync.Mutex
	events []syncer.Event
}

func (r *recorder) observe(ev syncer.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(t syncer.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) last() syncer.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func msg(body string, flags ...string) sessiontest.Message {
	return sessiontest.Message{
		Raw:   []byte("Subject: " + body + "\r\n\r\n" + body + "\r\n"),
		Date:  time.Date(2019, 11, 2, 8, 0, 0, 0, time.FixedZone("CET", 3600)),
		Flags: flags,
	}
}

func TestRunEndToEnd(t *testing.T) {
	src := sessiontest.New("Source", "/")
	dst := sessiontest.New("Destination", ".")
	inbox := []sessiontest.Message{msg("one", `\Seen`), msg("two"), msg("three", `\Flagged`, `\Answered`)}
	sent := []sessiontest.Message{msg("sent", `\Seen`)}
	src.AddMailbox("INBOX", inbox...)
	src.AddMailbox("INBOX/Sent", sent...)

	rec := &recorder{}
	plan, err := New(src, dst, Options{Observer: rec.observe}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, planner.Plan{
		{Source: "INBOX", Destination: "INBOX", Create: true},
		{Source: "INBOX/Sent", Destination: "INBOX.Sent", Create: true},
	}, plan)
	assert.Equal(t, []string{"Create INBOX", "Create INBOX.Sent"}, dst.CallsWithPrefix("Create"))
	assert.Equal(t, []string{"INBOX", "INBOX.Sent"}, dst.Mailboxes())
	assert.Equal(t, inbox, dst.Messages("INBOX"))
	assert.Equal(t, sent, dst.Messages("INBOX.Sent"))

	assert.True(t, src.LoggedOut())
	assert.True(t, dst.LoggedOut())
	assert.False(t, src.Terminated())
	assert.False(t, dst.Terminated())

	assert.Equal(t, 2, rec.count(syncer.EventConnected))
	assert.Equal(t, 2, rec.count(syncer.EventDisconnected))
	assert.Equal(t, 4, rec.count(syncer.EventMessageCopied))
	assert.Equal(t, 1, rec.count(syncer.EventDone))
	assert.Zero(t, rec.count(syncer.EventFailed))
}

func TestRunMailboxesStrictlySequential(t *testing.T) {
	src := sessiontest.New("Source", "/")
	dst := sessiontest.New("Destination", "/")
	src.AddMailbox("A", msg("a1"), msg("a2"))
	src.AddMailbox("B", msg("b1"))
	dst.AddMailbox("A")
	dst.AddMailbox("B")

	_, err := New(src, dst, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Connect", "List",
		"Select A", "Search", "Fetch", "Close A",
		"Select B", "Search", "Fetch", "Close B",
		"Logout",
	}, src.Calls())
	assert.Equal(t, []string{
		"Connect", "List",
		"Select A", "Append 1", "Append 2", "Close A",
		"Select B", "Append 3", "Close B",
		"Logout",
	}, dst.Calls())
}

func TestRunEmptyPlan(t *testing.T) {
	src := sessiontest.New("Source", "/")
	dst := sessiontest.New("Destination", ".")
	dst.AddMailbox("INBOX")

	rec := &recorder{}
	plan, err := New(src, dst, Options{Observer: rec.observe}).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, plan)
	assert.True(t, src.LoggedOut())
	assert.True(t, dst.LoggedOut())
	assert.Equal(t, 1, rec.count(syncer.EventDone))
}

func TestRunDryRun(t *testing.T) {
	src := sessiontest.New("Source", "/")
	dst := sessiontest.New("Destination", "/")
	src.AddMailbox("INBOX", msg("x"))

	plan, err := New(src, dst, Options{DryRun: true}).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, plan, 1)
	assert.Empty(t, dst.CallsWithPrefix("Create"))
	assert.Empty(t, src.CallsWithPrefix("Select"))
	assert.True(t, dst.LoggedOut())
}

func TestRunSourceConnectFailure(t *testing.T) {
	src := sessiontest.New("Source", "/")
	dst := sessiontest.New("Destination", "/")
	src.Errors["Connect"] = errors.New("dial tcp: connection refused")

	rec := &recorder{}
	_, err := New(src, dst, Options{Observer: rec.observe}).Run(context.Background())

	var opErr *session.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "Source Server: Connect", opErr.Step())
	assert.Empty(t, dst.CallsWithPrefix("Connect"))
	assert.True(t, src.Terminated())
	assert.True(t, dst.Terminated())
	assert.Equal(t, syncer.EventFailed, rec.last().Type)
}

func TestRunDestinationConnectFailure(t *testing.T) {
	src := sessiontest.New("Source", "/")
	dst := sessiontest.New("Destination", "/")
	dst.Errors["Connect"] = errors.New("authentication failed")

	_, err := New(src, dst, Options{}).Run(context.Background())

	var opErr *session.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "Destination Server: Connect", opErr.Step())
	assert.Empty(t, src.CallsWithPrefix("List"))
	assert.True(t, src.Terminated())
	assert.False(t, src.LoggedOut())
}

func TestRunListFailure(t *testing.T) {
	src := sessiontest.New("Source", "/")
	dst := sessiontest.New("Destination", "/")
	dst.Errors["List"] = errors.New("BAD")

	_, err := New(src, dst, Options{}).Run(context.Background())

	var opErr *session.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "Destination Server: Load Boxes", opErr.Step())
	assert.True(t, dst.Terminated())
}

func TestRunAppendFailureAborts(t *testing.T) {
	src := sessiontest.New("Source", "/")
	dst := sessiontest.New("Destination", "/")
	src.AddMailbox("INBOX", msg("1"), msg("2"), msg("3"), msg("4"))
	src.AddMailbox("Later", msg("5"))
	cause := errors.New("NO [OVERQUOTA]")
	dst.Errors["Append 2"] = cause

	rec := &recorder{}
	_, err := New(src, dst, Options{Observer: rec.observe}).Run(context.Background())
	require.ErrorIs(t, err, cause)

	assert.Equal(t, []string{"Append 1", "Append 2"}, dst.CallsWithPrefix("Append"))
	assert.Empty(t, dst.CallsWithPrefix("Close"))
	assert.Empty(t, src.CallsWithPrefix("Close"))
	assert.Empty(t, src.CallsWithPrefix("Select Later"))

	assert.True(t, src.Terminated())
	assert.True(t, dst.Terminated())
	assert.False(t, src.LoggedOut())
	assert.False(t, dst.LoggedOut())

	last := rec.last()
	assert.Equal(t, syncer.EventFailed, last.Type)
	assert.ErrorIs(t, last.Err, cause)
}
