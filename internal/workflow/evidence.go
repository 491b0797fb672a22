package workflow

import (
	"regexp"
	"strings"

	"taskbot/internal/transport"
)

type EvidenceKind int

const (
	EvidenceAttachment EvidenceKind = iota + 1
	EvidenceCode
)

// Evidence is one incoming proof item. For attachments Code holds the
// first 4-digit run of the caption, if any.
type Evidence struct {
	Kind       EvidenceKind
	Attachment transport.Attachment
	Code       string
}

var (
	captionCode = regexp.MustCompile(`\d{4}`)
	exactCode   = regexp.MustCompile(`^\d{4}$`)
)

// EvidenceFrom classifies a message: any attachment is evidence; text is
// evidence only when it is exactly four digits.
func EvidenceFrom(m *transport.Message) (Evidence, bool) {
	if m == nil {
		return Evidence{}, false
	}
	if m.Attachment != nil && !m.Attachment.IsZero() {
		return Evidence{
			Kind:       EvidenceAttachment,
			Attachment: *m.Attachment,
			Code:       captionCode.FindString(m.Text),
		}, true
	}
	if text := strings.TrimSpace(m.Text); exactCode.MatchString(text) {
		return Evidence{Kind: EvidenceCode, Code: text}, true
	}
	return Evidence{}, false
}
