package router

import (
	"strings"
	"unicode"
)

// parseCommand splits "/name@bot rest" into its parts. ok is false when
// text is not a command.
func parseCommand(text string) (name, bot, rest string, ok bool) {
	text = strings.TrimLeftFunc(text, unicode.IsSpace)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", "", false
	}
	head := text[1:]
	if i := strings.IndexFunc(head, unicode.IsSpace); i >= 0 {
		head, rest = head[:i], head[i+1:]
	}
	name, bot, _ = strings.Cut(head, "@")
	name = strings.ToLower(name)
	if name == "" {
		return "", "", "", false
	}
	return name, bot, strings.TrimSpace(rest), true
}

// tokenize splits s on whitespace, honoring single and double quotes and
// backslash escapes.
func tokenize(s string) []string {
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar rune
		esc   bool
		has   bool
	)
	flush := func() {
		if has {
			out = append(out, buf.String())
			buf.Reset()
			has = false
		}
	}
	for _, ch := range s {
		switch {
		case esc:
			buf.WriteRune(ch)
			esc, has = false, true
		case ch == '\\':
			esc = true
		case inQ && ch == qChar:
			inQ = false
		case inQ:
			buf.WriteRune(ch)
		case ch == '"' || ch == '\'':
			inQ, qChar, has = true, ch, true
		case unicode.IsSpace(ch):
			flush()
		default:
			buf.WriteRune(ch)
			has = true
		}
	}
	flush()
	return out
}

// SplitCallback splits "scope:action:payload". The payload may itself
// contain colons.
func SplitCallback(data string) (scope, action, payload string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	if len(parts) == 3 {
		payload = parts[2]
	}
	return parts[0], parts[1], payload, true
}
