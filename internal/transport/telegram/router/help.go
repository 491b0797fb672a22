package router

import (
	"html"
	"strings"

	"taskbot/internal/transport"
)

func (r *Router) visible(owner bool) []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Command, 0, len(r.order))
	for _, c := range r.order {
		if c.Hidden || (c.Access == AccessOwnerOnly && !owner) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// helpText lists the commands the caller may use, in HTML.
func (r *Router) helpText(owner bool) string {
	var b strings.Builder
	b.WriteString("<b>Commands</b>\n")
	for _, c := range r.visible(owner) {
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b.WriteString("\n<code>" + html.EscapeString(usage) + "</code>")
		if c.Description != "" {
			b.WriteString(" · " + html.EscapeString(c.Description))
		}
		if c.Access == AccessOwnerOnly {
			b.WriteString(" 🔒")
		}
	}
	return b.String()
}

// menu is the published command list. Owner-only commands are included
// and marked, since Telegram menus are not per user.
func (r *Router) menu() []transport.BotCommand {
	cmds := r.visible(true)
	out := make([]transport.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		if !validMenuName(c.Name) {
			continue
		}
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = c.Name
		}
		if c.Access == AccessOwnerOnly {
			desc = "🔒 " + desc
		}
		out = append(out, transport.BotCommand{Command: c.Name, Description: desc})
	}
	return out
}

// validMenuName matches Telegram's [a-z0-9_]{1,32}.
func validMenuName(s string) bool {
	if s == "" || len(s) > 32 {
		return false
	}
	for _, ch := range s {
		if !(ch >= 'a' && ch <= 'z' || ch >= '0' && ch <= '9' || ch == '_') {
			return false
		}
	}
	return true
}
