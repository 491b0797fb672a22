package transport

import (
	"strconv"
	"strings"
)

func DisplayName(username, firstName string, id int64) string {
	if u := strings.TrimSpace(username); u != "" {
		return "@" + u
	}
	if f := strings.TrimSpace(firstName); f != "" {
		return f
	}
	return strconv.FormatInt(id, 10)
}
