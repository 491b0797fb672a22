package tgui

import (
	tele "gopkg.in/telebot.v4"

	"taskbot/internal/transport"
)

// Inline builds an inline keyboard row by row.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

func (i *Inline) Row(btn ...tele.Btn) *Inline {
	if len(btn) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Grid appends buttons split into rows of n.
func (i *Inline) Grid(n int, btn []tele.Btn) *Inline {
	for _, row := range i.rm.Split(max(1, n), btn) {
		i.rows = append(i.rows, row)
	}
	i.rm.Inline(i.rows...)
	return i
}

func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button. data is sent verbatim; build it with Data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// HTML returns send options for HTML parse mode without link previews,
// carrying markup when non-nil.
func HTML(markup *Inline) *transport.SendOptions {
	opt := &transport.SendOptions{ParseMode: tele.ModeHTML, DisablePreview: true}
	if markup != nil {
		opt.ReplyMarkupAdapter = markup.Markup()
	}
	return opt
}
