package imaputil

import (
	"context"
	"crypto/tls"
	"net"
	"os"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/pepperpark/imapcopy/internal/config"
)

// DialAndLogin connects and logs into an IMAP server. acct.Timeout bounds
// dialing, STARTTLS and LOGIN only: Client.Timeout is a deadline per whole
// command, and one FETCH lasts as long as copying its mailbox.
func DialAndLogin(ctx context.Context, acct config.Account) (*client.Client, error) {
	dialer := &net.Dialer{Timeout: acct.Timeout}
	tlsConfig := &tls.Config{ServerName: acct.Host, InsecureSkipVerify: acct.InsecureSkipVerify}

	var c *client.Client
	var err error
	switch {
	case acct.StartTLS:
		// Plain connection, then upgrade with STARTTLS
		c, err = client.DialWithDialer(dialer, acct.Addr())
		if err != nil {
			return nil, err
		}
		c.Timeout = acct.Timeout
		if err := c.StartTLS(tlsConfig); err != nil {
			_ = c.Logout()
			return nil, err
		}
	case acct.TLS:
		c, err = client.DialWithDialerTLS(dialer, acct.Addr(), tlsConfig)
		if err != nil {
			return nil, err
		}
	default:
		c, err = client.DialWithDialer(dialer, acct.Addr())
		if err != nil {
			return nil, err
		}
	}
	c.Timeout = acct.Timeout
	defer func() { c.Timeout = 0 }()
	// Enable raw IMAP wire debug if requested via environment variable
	if os.Getenv("IMAPCOPY_IMAP_DEBUG") == "1" {
		c.SetDebug(os.Stderr)
	}
	if err := ctx.Err(); err != nil {
		_ = c.Terminate()
		return nil, err
	}
	if err := c.Login(acct.Username, acct.Password); err != nil {
		_ = c.Logout()
		return nil, err
	}
	return c, nil
}

// ListMailboxes returns all mailbox names in server order and the hierarchy
// delimiter. An empty listing still reports the delimiter.
func ListMailboxes(ctx context.Context, c *client.Client) ([]string, string, error) {
	names, delim, err := list(c, "*")
	if err != nil {
		return nil, "", err
	}
	if delim == "" {
		// LIST "" "" only returns the delimiter.
		if _, delim, err = list(c, ""); err != nil {
			return nil, "", err
		}
	}
	return names, delim, nil
}

func list(c *client.Client, pattern string) ([]string, string, error) {
	var names []string
	var delim string
	ch := make(chan *imap.MailboxInfo, 32)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", pattern, ch)
	}()
	for m := range ch {
		if m == nil {
			continue
		}
		if delim == "" {
			delim = m.Delimiter
		}
		if m.Name != "" {
			names = append(names, m.Name)
		}
	}
	if err := <-done; err != nil {
		return nil, "", err
	}
	return names, delim, nil
}

// SearchAll returns the sequence numbers of every message in the selected
// mailbox. SEARCH needs at least one key, so all messages are addressed as
// the range 1:messages.
func SearchAll(c *client.Client) ([]uint32, error) {
	mbox := c.Mailbox()
	if mbox == nil || mbox.Messages == 0 {
		return nil, nil
	}
	criteria := imap.NewSearchCriteria()
	criteria.SeqNum = new(imap.SeqSet)
	criteria.SeqNum.AddRange(1, mbox.Messages)
	return c.Search(criteria)
}

// withoutRecent drops \Recent, which clients may not set on APPEND.
func withoutRecent(flags []string) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		if f != imap.RecentFlag {
			out = append(out, f)
		}
	}
	return out
}
