// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"errors"
	"io"
	"sync"

	"taskbot/internal/transport"
)

var ErrUnreachable = errors.New("transporttest: chat unreachable")

// Post is one message recorded by Sender.
type Post struct {
	Ref        transport.MessageRef
	Text       string
	Attachment *transport.Attachment
	Markup     any
}

// Answer is one recorded callback answer.
type Answer struct {
	ID    string
	Text  string
	Alert bool
}

// Sender records every outbound call. Chats listed in Fail (or failing
// for the first FailFirst attempts) return ErrUnreachable.
type Sender struct {
	mu        sync.Mutex
	nextID    int
	posts     []Post
	edits     map[transport.MessageRef]string
	cleared   map[transport.MessageRef]bool
	fail      map[int64]bool
	failFirst map[int64]int
	calls     map[int64]int
	answers   []Answer
}

var _ transport.Adapter = (*Sender)(nil)

func NewSender() *Sender {
	return &Sender{
		edits:     map[transport.MessageRef]string{},
		cleared:   map[transport.MessageRef]bool{},
		fail:      map[int64]bool{},
		failFirst: map[int64]int{},
		calls:     map[int64]int{},
	}
}

// FailChat makes every call to chatID fail until cleared with ok=false.
func (s *Sender) FailChat(chatID int64, fail bool) {
	s.mu.Lock()
	s.fail[chatID] = fail
	s.mu.Unlock()
}

// FailFirst makes the first n calls to chatID fail.
func (s *Sender) FailFirst(chatID int64, n int) {
	s.mu.Lock()
	s.failFirst[chatID] = n
	s.mu.Unlock()
}

func (s *Sender) check(chatID int64) error {
	s.calls[chatID]++
	if s.fail[chatID] {
		return ErrUnreachable
	}
	if s.failFirst[chatID] > 0 {
		s.failFirst[chatID]--
		return ErrUnreachable
	}
	return nil
}

func (s *Sender) post(to transport.ChatTarget, text string, att *transport.Attachment, opt *transport.SendOptions) (transport.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(to.ChatID); err != nil {
		return transport.MessageRef{}, err
	}
	s.nextID++
	ref := transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: s.nextID}
	p := Post{Ref: ref, Text: text, Attachment: att}
	if opt != nil {
		p.Markup = opt.ReplyMarkupAdapter
	}
	s.posts = append(s.posts, p)
	return ref, nil
}

func (s *Sender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return s.post(to, text, nil, opt)
}

func (s *Sender) SendAttachment(ctx context.Context, to transport.ChatTarget, att transport.Attachment, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return s.post(to, caption, &att, opt)
}

func (s *Sender) SendDocument(ctx context.Context, to transport.ChatTarget, name string, r io.Reader, caption string) (transport.MessageRef, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return transport.MessageRef{}, err
	}
	return s.post(to, caption, &transport.Attachment{Kind: transport.AttachmentDocument, FileID: name}, nil)
}

func (s *Sender) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ref.ChatID); err != nil {
		return err
	}
	s.edits[ref] = text
	return nil
}

func (s *Sender) ClearMarkup(ctx context.Context, ref transport.MessageRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ref.ChatID); err != nil {
		return err
	}
	s.cleared[ref] = true
	return nil
}

// Posts returns the successful posts to chatID, oldest first.
func (s *Sender) Posts(chatID int64) []Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Post
	for _, p := range s.posts {
		if p.Ref.ChatID == chatID {
			out = append(out, p)
		}
	}
	return out
}

// Last returns the most recent post to chatID.
func (s *Sender) Last(chatID int64) (Post, bool) {
	ps := s.Posts(chatID)
	if len(ps) == 0 {
		return Post{}, false
	}
	return ps[len(ps)-1], true
}

func (s *Sender) Edited(ref transport.MessageRef) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.edits[ref]
	return t, ok
}

func (s *Sender) Cleared(ref transport.MessageRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleared[ref]
}

// Calls counts every attempt against chatID, failed ones included.
func (s *Sender) Calls(chatID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[chatID]
}

func (s *Sender) Start(context.Context, chan<- transport.Update) error { return nil }
func (s *Sender) Stop(context.Context) error                           { return nil }

func (s *Sender) AnswerCallback(ctx context.Context, id, text string, alert bool) error {
	s.mu.Lock()
	s.answers = append(s.answers, Answer{ID: id, Text: text, Alert: alert})
	s.mu.Unlock()
	return nil
}

// Answers returns callback answers for id, oldest first.
func (s *Sender) Answers(id string) []Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Answer
	for _, a := range s.answers {
		if a.ID == id {
			out = append(out, a)
		}
	}
	return out
}

// All returns every successful post, oldest first.
func (s *Sender) All() []Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Post(nil), s.posts...)
}
