package adapter

import (
	"context"
	"fmt"
	"io"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"taskbot/internal/transport"
	"taskbot/pkg/logx"
)

// captionLimit is Telegram's media caption limit in runes.
const captionLimit = 1024

func sendOptions(to transport.ChatTarget, opt *transport.SendOptions, withMarkup bool) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: to.ThreadID}
	if opt == nil {
		return so
	}
	so.ParseMode = opt.ParseMode
	so.DisableWebPagePreview = opt.DisablePreview
	if withMarkup {
		if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
			so.ReplyMarkup = rm
		}
	}
	return so
}

func refOf(to transport.ChatTarget, m *tele.Message) transport.MessageRef {
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: m.ID}
}

// SendText sends text, split into several messages when it exceeds the
// Telegram limit. Markup goes on the first part, whose ref is returned.
func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	mode := ""
	if opt != nil {
		mode = opt.ParseMode
	}
	chat := &tele.Chat{ID: to.ChatID}
	var first transport.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit, mode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, sendOptions(to, opt, i == 0))
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = refOf(to, msg)
		}
	}
	return first, nil
}

func (a *Adapter) SendAttachment(ctx context.Context, to transport.ChatTarget, att transport.Attachment, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return transport.MessageRef{}, err
	}
	if att.IsZero() {
		return transport.MessageRef{}, fmt.Errorf("send attachment: empty file id")
	}
	caption = clipRunes(caption, captionLimit)
	file := tele.File{FileID: att.FileID}

	var what any
	switch att.Kind {
	case transport.AttachmentDocument:
		what = &tele.Document{File: file, Caption: caption}
	default:
		what = &tele.Photo{File: file, Caption: caption}
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, what, sendOptions(to, opt, true))
	if err != nil {
		return transport.MessageRef{}, err
	}
	return refOf(to, msg), nil
}

// SendDocument uploads r as a new file.
func (a *Adapter) SendDocument(ctx context.Context, to transport.ChatTarget, name string, r io.Reader, caption string) (transport.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return transport.MessageRef{}, err
	}
	doc := &tele.Document{File: tele.FromReader(r), FileName: name, Caption: clipRunes(caption, captionLimit)}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, doc, &tele.SendOptions{ThreadID: to.ThreadID})
	if err != nil {
		return transport.MessageRef{}, err
	}
	return refOf(to, msg), nil
}

// EditText replaces the text of ref. Overflow beyond one message is sent
// as new messages below it.
func (a *Adapter) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	mode := ""
	if opt != nil {
		mode = opt.ParseMode
	}
	chunks := splitTelegramText(text, telegramTextLimit, mode)
	to := transport.ChatTarget{ChatID: ref.ChatID, ThreadID: ref.ThreadID}

	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := a.bot.Edit(m, chunks[0], sendOptions(to, opt, true)); err != nil {
		return err
	}
	for _, chunk := range chunks[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(&tele.Chat{ID: ref.ChatID}, chunk, sendOptions(to, opt, false)); err != nil {
			return err
		}
	}
	return nil
}

// ClearMarkup drops the inline keyboard. editMessageReplyMarkup without a
// reply_markup removes it, which works for text and media messages alike.
func (a *Adapter) ClearMarkup(ctx context.Context, ref transport.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.bot.Raw("editMessageReplyMarkup", map[string]string{
		"chat_id":    strconv.FormatInt(ref.ChatID, 10),
		"message_id": strconv.Itoa(ref.MessageID),
	})
	return err
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: clipRunes(text, 200), ShowAlert: alert})
	if err != nil {
		a.log.Debug("answer callback failed", logx.Err(err))
	}
	return err
}

func clipRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
