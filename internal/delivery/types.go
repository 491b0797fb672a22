// Package delivery sends one payload per destination, concurrently, paced
// by a shared rate limiter and retried per destination. A failed destination
// never aborts the others.
package delivery

import (
	"fmt"
	"time"

	"taskbot/internal/transport"
)

type Config struct {
	Workers     int
	RatePerSec  int
	RetryMax    int
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// Message is one outbound post. Attachment, when set, is sent with Text as caption.
type Message struct {
	To         transport.ChatTarget
	Text       string
	Attachment *transport.Attachment
	Options    *transport.SendOptions
}

// Edit rewrites a posted message. With ClearOnly the text is kept and
// only the inline buttons are removed.
type Edit struct {
	Ref       transport.MessageRef
	Text      string
	Options   *transport.SendOptions
	ClearOnly bool
}

type Failure struct {
	Index int
	To    transport.ChatTarget
	Err   error
}

// Report is the outcome of one fan-out. Refs is indexed like the input;
// failed entries hold a zero MessageRef.
type Report struct {
	Total     int
	Delivered int
	Refs      []transport.MessageRef
	Failures  []Failure
	Took      time.Duration
}

// Sent returns the refs of the successful deliveries only.
func (r Report) Sent() []transport.MessageRef {
	out := make([]transport.MessageRef, 0, r.Delivered)
	for _, ref := range r.Refs {
		if ref.MessageID != 0 {
			out = append(out, ref)
		}
	}
	return out
}

func (r Report) String() string { return fmt.Sprintf("%d of %d", r.Delivered, r.Total) }
