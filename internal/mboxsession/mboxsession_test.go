package mboxsession

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepperpark/imapcopy/internal/planner"
	"github.com/pepperpark/imapcopy/internal/session"
	"github.com/pepperpark/imapcopy/internal/session/sessiontest"
	"github.com/pepperpark/imapcopy/internal/syncer"
)

const sample = "From alice@example.org Mon Jan  6 10:00:00 2020\n" +
	"From: alice@example.org\n" +
	"Date: Mon, 06 Jan 2020 10:00:00 +0000\n" +
	"Subject: first\n" +
	"Status: RO\n" +
	"X-Status: AF\n" +
	"\n" +
	"first body\n" +
	"\n" +
	"From bob@example.org Tue Jan  7 11:00:00 2020\n" +
	"From: bob@example.org\n" +
	"Subject: second\n" +
	"\n" +
	"second body\n"

func writeMbox(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.mbox")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	return path
}

func TestSession(t *testing.T) {
	ctx := context.Background()
	s := New("Source", writeMbox(t), "", nil)
	fixed := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Connect(ctx))
	tree, delim, err := s.ListMailboxes(ctx)
	require.NoError(t, err)
	assert.Equal(t, Delimiter, delim)
	require.Len(t, tree, 1)
	assert.Equal(t, "INBOX", tree[0].Name)

	assert.ErrorIs(t, s.Select(ctx, "INBOX", false), session.ErrReadOnly)
	require.NoError(t, s.Select(ctx, "INBOX", true))

	seqs, err := s.Search(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, seqs)

	events := make(chan session.FetchEvent, 16)
	require.NoError(t, s.Fetch(ctx, seqs, events))

	bodies := map[uint32]*bytes.Buffer{1: {}, 2: {}}
	attrs := map[uint32]*session.Attributes{}
	done := map[uint32]bool{}
	for ev := range events {
		if ev.Attributes != nil {
			attrs[ev.SeqNum] = ev.Attributes
		}
		bodies[ev.SeqNum].Write(ev.Chunk)
		if ev.BodyDone {
			done[ev.SeqNum] = true
		}
	}

	assert.True(t, done[1])
	assert.True(t, done[2])
	assert.Contains(t, bodies[1].String(), "Subject: first")
	assert.Contains(t, bodies[1].String(), "first body")
	assert.NotContains(t, bodies[1].String(), "second body")
	assert.Contains(t, bodies[2].String(), "second body")

	require.NotNil(t, attrs[1])
	assert.True(t, attrs[1].Date.Equal(time.Date(2020, 1, 6, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, []string{`\Seen`, `\Answered`, `\Flagged`}, attrs[1].Flags)
	require.NotNil(t, attrs[2])
	assert.Equal(t, fixed, attrs[2].Date)
	assert.Empty(t, attrs[2].Flags)

	assert.ErrorIs(t, s.Append(ctx, "INBOX", nil, session.Attributes{}), session.ErrReadOnly)
	assert.ErrorIs(t, s.Create(ctx, "x"), session.ErrReadOnly)
	require.NoError(t, s.CloseMailbox(ctx))
	require.NoError(t, s.Logout())
	<-s.Disconnected()
}

func TestSessionMissingFile(t *testing.T) {
	s := New("Source", filepath.Join(t.TempDir(), "missing.mbox"), "Archive", nil)
	assert.Error(t, s.Connect(context.Background()))
}

func TestCopyFromMbox(t *testing.T) {
	src := New("Source", writeMbox(t), "Imported", nil)
	require.NoError(t, src.Connect(context.Background()))
	defer src.Logout()

	dst := sessiontest.New("Destination", ".")
	err := syncer.NewMailboxSyncer(src, dst, syncer.Options{}).
		CopyMailbox(context.Background(), planner.Task{Source: "Imported", Destination: "Imported", Create: true})
	require.NoError(t, err)

	msgs := dst.Messages("Imported")
	require.Len(t, msgs, 2)
	assert.Contains(t, string(msgs[0].Raw), "first body")
	assert.Equal(t, []string{`\Seen`, `\Answered`, `\Flagged`}, msgs[0].Flags)
}

func TestStatusFlags(t *testing.T) {
	assert.Equal(t, []string{}, statusFlags("O", ""))
	assert.Equal(t, []string{`\Draft`, `\Deleted`}, statusFlags("", "TD"))
}

func TestTerminateDuringFetch(t *testing.T) {
	ctx := context.Background()
	s := New("Source", writeMbox(t), "", nil)
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Select(ctx, "INBOX", true))

	events := make(chan session.FetchEvent)
	fetchErr := make(chan error, 1)
	go func() { fetchErr <- s.Fetch(ctx, []uint32{1, 2}, events) }()
	<-events

	require.NoError(t, s.Terminate())
	select {
	case <-s.Disconnected():
	default:
		t.Fatal("session still connected")
	}

	select {
	case err := <-fetchErr:
		assert.ErrorIs(t, err, errTerminated)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch kept running")
	}
	for range events {
	}

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.f == nil
	}, 2*time.Second, 10*time.Millisecond)
}
