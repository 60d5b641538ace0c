// Package session describes the mail store operations a migration needs
// from each side of the copy.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/pepperpark/imapcopy/internal/mailboxtree"
)

// ErrReadOnly is returned by sessions that cannot be written to.
var ErrReadOnly = errors.New("session is read-only")

// Attributes are the per-message properties carried over on append.
type Attributes struct {
	Date  time.Time
	Flags []string
}

// FetchEvent is one piece of a fetched message. Events for different
// messages may interleave and a message's attributes may arrive before,
// between or after its body chunks.
type FetchEvent struct {
	SeqNum uint32
	// Attributes is nil when the event does not carry them.
	Attributes *Attributes
	// Chunk is the next slice of the raw message.
	Chunk []byte
	// BodyDone marks the last body event for SeqNum.
	BodyDone bool
}

// Session is a connection to one mail account. Implementations are used by
// one goroutine at a time, except Terminate which may be called at any
// point to unblock pending operations.
type Session interface {
	// Name labels the session in progress output ("Source", "Destination").
	Name() string
	Connect(ctx context.Context) error
	// ListMailboxes returns the nested listing and the hierarchy delimiter.
	ListMailboxes(ctx context.Context) ([]*mailboxtree.Node, string, error)
	Select(ctx context.Context, mailbox string, readOnly bool) error
	// Search returns the sequence numbers of every message in the selected
	// mailbox.
	Search(ctx context.Context) ([]uint32, error)
	// Fetch streams the full raw content and attributes of seqNums into
	// events and closes events when done.
	Fetch(ctx context.Context, seqNums []uint32, events chan<- FetchEvent) error
	Append(ctx context.Context, mailbox string, raw []byte, attrs Attributes) error
	Create(ctx context.Context, mailbox string) error
	Subscribe(ctx context.Context, mailbox string) error
	CloseMailbox(ctx context.Context) error
	// Logout ends the session gracefully.
	Logout() error
	// Terminate drops the connection without a goodbye.
	Terminate() error
	// Disconnected is closed once the connection is gone.
	Disconnected() <-chan struct{}
}
