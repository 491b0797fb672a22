package workflow

import (
	"testing"

	"taskbot/internal/transport"
)

func TestEvidenceFrom(t *testing.T) {
	t.Parallel()

	photo := &transport.Attachment{Kind: transport.AttachmentPhoto, FileID: "p1"}
	cases := []struct {
		name     string
		msg      *transport.Message
		ok       bool
		kind     EvidenceKind
		wantCode string
	}{
		{"photo without caption", &transport.Message{Attachment: photo}, true, EvidenceAttachment, ""},
		{"photo with code in caption", &transport.Message{Attachment: photo, Text: "done, code 48213 thx"}, true, EvidenceAttachment, "4821"},
		{"standalone code", &transport.Message{Text: " 4821 "}, true, EvidenceCode, "4821"},
		{"five digits", &transport.Message{Text: "48210"}, false, 0, ""},
		{"code inside text", &transport.Message{Text: "code 4821"}, false, 0, ""},
		{"plain text", &transport.Message{Text: "hello"}, false, 0, ""},
		{"nil", nil, false, 0, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, ok := EvidenceFrom(tc.msg)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if !ok {
				return
			}
			if ev.Kind != tc.kind || ev.Code != tc.wantCode {
				t.Fatalf("evidence = %+v, want kind %v code %q", ev, tc.kind, tc.wantCode)
			}
		})
	}
}
