package adapter

import (
	tele "gopkg.in/telebot.v4"

	"taskbot/internal/transport"
)

func (a *Adapter) registerHandlers() {
	onMessage := func(c tele.Context) error {
		if m := toMessage(c.Message()); m != nil {
			a.emit(transport.Update{Kind: transport.UpdateMessage, Message: m})
		}
		return nil
	}
	a.bot.Handle(tele.OnText, onMessage)
	a.bot.Handle(tele.OnPhoto, onMessage)
	a.bot.Handle(tele.OnDocument, onMessage)

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		if cb := toCallback(c.Callback()); cb != nil {
			a.emit(transport.Update{Kind: transport.UpdateCallback, Callback: cb})
		}
		return nil
	})
}

func toMessage(m *tele.Message) *transport.Message {
	if m == nil || m.Chat == nil {
		return nil
	}
	out := &transport.Message{
		ID:        m.ID,
		ChatID:    m.Chat.ID,
		ChatTitle: m.Chat.Title,
		ThreadID:  threadID(m),
		Text:      m.Text,
		IsGroup:   m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
	}
	if m.Sender != nil {
		out.FromID = m.Sender.ID
		out.FromUsername = m.Sender.Username
		out.FromFirstName = m.Sender.FirstName
	}
	switch {
	case m.Photo != nil:
		out.Attachment = &transport.Attachment{Kind: transport.AttachmentPhoto, FileID: m.Photo.FileID}
		out.Text = m.Caption
	case m.Document != nil:
		out.Attachment = &transport.Attachment{Kind: transport.AttachmentDocument, FileID: m.Document.FileID}
		out.Text = m.Caption
	}
	return out
}

func toCallback(cb *tele.Callback) *transport.Callback {
	if cb == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}
	out := &transport.Callback{
		ID:        cb.ID,
		ChatID:    cb.Message.Chat.ID,
		ThreadID:  threadID(cb.Message),
		MessageID: cb.Message.ID,
		Data:      cb.Data,
	}
	if cb.Sender != nil {
		out.FromID = cb.Sender.ID
		out.FromUsername = cb.Sender.Username
		out.FromFirstName = cb.Sender.FirstName
	}
	return out
}

// threadID is the forum topic of m. Replies in a non-forum group also
// carry a thread id, so only topic messages count.
func threadID(m *tele.Message) int {
	if m.TopicMessage {
		return m.ThreadID
	}
	return 0
}
