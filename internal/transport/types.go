// Package transport defines the platform-neutral shapes the bot core
// consumes and the Adapter a chat platform must implement.
package transport

import (
	"context"
	"io"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// AttachmentKind is the platform media category behind an opaque file reference.
type AttachmentKind string

const (
	AttachmentPhoto    AttachmentKind = "photo"
	AttachmentDocument AttachmentKind = "document"
)

// Attachment is an opaque reference to media already stored by the platform.
type Attachment struct {
	Kind   AttachmentKind `json:"kind"`
	FileID string         `json:"file_id"`
}

func (a Attachment) IsZero() bool { return a.FileID == "" }

type Message struct {
	ID            int
	ChatID        int64
	ChatTitle     string
	ThreadID      int // forum topic id (0 if none)
	FromID        int64
	FromUsername  string
	FromFirstName string
	Text          string // text body, or caption when Attachment is set
	Attachment    *Attachment
	IsGroup       bool
}

// DisplayName is "@username" when available, else the first name, else the id.
func (m *Message) DisplayName() string {
	return DisplayName(m.FromUsername, m.FromFirstName, m.FromID)
}

type Callback struct {
	ID            string
	FromID        int64
	FromUsername  string
	FromFirstName string
	ChatID        int64
	ThreadID      int
	MessageID     int
	Data          string
}

func (c *Callback) DisplayName() string {
	return DisplayName(c.FromUsername, c.FromFirstName, c.FromID)
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// Sender is the outbound half of an Adapter. The workflow core only needs this.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendAttachment(ctx context.Context, to ChatTarget, att Attachment, caption string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	// ClearMarkup removes every inline button from a sent message.
	ClearMarkup(ctx context.Context, ref MessageRef) error
}

type Adapter interface {
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendDocument(ctx context.Context, to ChatTarget, name string, r io.Reader, caption string) (MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string, alert bool) error
}

// BotCommand is one entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
