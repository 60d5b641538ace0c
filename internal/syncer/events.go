package syncer

// EventType enumerates emitted progress events.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventDisconnected    EventType = "disconnected"
	EventMailboxesLoaded EventType = "mailboxes_loaded"
	EventPlanReady       EventType = "plan_ready"
	EventMailboxStart    EventType = "mailbox_start"
	EventMailboxCreated  EventType = "mailbox_created"
	EventMailboxOpened   EventType = "mailbox_opened"
	EventMessagesFound   EventType = "messages_found"
	EventMessageCopied   EventType = "message_copied"
	EventMailboxClosed   EventType = "mailbox_closed"
	EventDone            EventType = "done"
	EventFailed          EventType = "failed"
)

// Event carries progress about a run. Server is the session name
// ("Source", "Destination") for events tied to one side.
type Event struct {
	Type    EventType
	Server  string
	Mailbox string
	// Mailboxes is the number of mailboxes loaded or planned.
	Mailboxes int
	// Creates is the number of planned destination mailboxes to create.
	Creates int
	Total   int
	Done    int
	SeqNum  uint32
	Size    int
	Err     error
}

// Observer receives events synchronously, in emission order.
type Observer func(Event)
