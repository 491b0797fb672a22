package workflow

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskbot/internal/delivery"
	"taskbot/internal/eventbus"
	"taskbot/internal/routing"
	"taskbot/internal/transport"
	"taskbot/internal/transport/transporttest"
	"taskbot/pkg/logx"
)

const (
	s1 int64 = -100
	t1 int64 = -1
	t2 int64 = -2
)

type countingSink struct {
	mu      sync.Mutex
	counts  map[Action]int
	history []HistoryEntry
}

func (c *countingSink) Record(w Worker, v Variant, a Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[Action]int{}
	}
	c.counts[a]++
}

func (c *countingSink) AppendHistory(e HistoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, e)
}

func (c *countingSink) count(a Action) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[a]
}

type fixture struct {
	svc   *Service
	out   *transporttest.Sender
	graph *routing.Graph
	sink  *countingSink
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	g, _ := routing.NewGraph(routing.Document{}, nil)
	_, err := g.AddSource(s1, "HQ")
	require.NoError(t, err)
	_, err = g.AddTarget(routing.TargetKey{ChatID: t1}, "T1", []int64{s1})
	require.NoError(t, err)
	_, err = g.AddTarget(routing.TargetKey{ChatID: t2}, "T2", []int64{s1})
	require.NoError(t, err)

	out := transporttest.NewSender()
	sink := &countingSink{}
	svc := NewService(Deps{
		Registry: NewRegistry(),
		Routes:   g,
		Delivery: delivery.New(out, delivery.Config{Workers: 4, RatePerSec: 1000, SendTimeout: time.Second}, logx.Nop()),
		Sink:     sink,
		Bus:      eventbus.New(),
		Log:      logx.Nop(),
	})
	return fixture{svc: svc, out: out, graph: g, sink: sink}
}

func TestWorkflowScenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	worker := Worker{ID: 7, Name: "@seven"}
	other := Worker{ID: 8, Name: "@eight"}

	res, err := f.svc.Broadcast(ctx, s1, Verified, "Template A")
	require.NoError(t, err)
	require.Equal(t, 2, res.Delivered)
	require.Equal(t, 2, res.Total)
	post, ok := f.out.Last(t1)
	require.True(t, ok)
	require.Contains(t, post.Text, "Template A")
	require.Contains(t, post.Text, "TEST")

	id := res.Task.ID
	claimed, err := f.svc.Claim(ctx, id, worker, transport.ChatTarget{ChatID: t1})
	require.NoError(t, err)
	require.Equal(t, Claimed, claimed.Status)
	for _, ref := range claimed.Posts {
		txt, edited := f.out.Edited(ref)
		require.True(t, edited)
		require.Contains(t, txt, "Taken by: @seven")
	}
	notice, ok := f.out.Last(s1)
	require.True(t, ok)
	require.Contains(t, notice.Text, "@seven took Test task")

	_, err = f.svc.Claim(ctx, id, other, transport.ChatTarget{ChatID: t2})
	require.ErrorIs(t, err, ErrAlreadyClaimed)

	part, err := f.svc.Submit(ctx, worker, transport.ChatTarget{ChatID: t1}, Evidence{Kind: EvidenceAttachment, Attachment: photo})
	require.NoError(t, err)
	require.False(t, part.Complete)
	require.Contains(t, part.Prompt(), "4-digit code")

	sub, err := f.svc.Submit(ctx, worker, transport.ChatTarget{ChatID: t1}, Evidence{Kind: EvidenceCode, Code: "4821"})
	require.NoError(t, err)
	require.True(t, sub.Complete)
	require.Equal(t, PendingReview, sub.Task.Status)
	require.Equal(t, 1, sub.Reviewers)
	review, ok := f.out.Last(s1)
	require.True(t, ok)
	require.NotNil(t, review.Attachment)
	require.Contains(t, review.Text, "4821")

	vr, err := f.svc.Verify(ctx, id, Reject, Worker{ID: 99, Name: "@boss"})
	require.NoError(t, err)
	require.Equal(t, Failed, vr.Task.Status)
	require.NotNil(t, vr.Requeue)
	require.Equal(t, 2, vr.Requeue.Delivered)
	require.Equal(t, 2, vr.Requeue.Total)
	require.True(t, f.out.Cleared(review.Ref), "review buttons removed")

	got, ok := f.svc.Registry().Get(id)
	require.True(t, ok)
	require.Equal(t, Open, got.Status)
	require.Nil(t, got.Claim)
	require.Len(t, got.Posts, 2)

	require.Equal(t, 1, f.sink.count(ActionTake))
	require.Equal(t, 1, f.sink.count(ActionFail))

	_, err = f.svc.Claim(ctx, id, other, transport.ChatTarget{ChatID: t2})
	require.NoError(t, err)
}

func TestBroadcastNoLinkedTargets(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.graph.AddSource(-200, "Lonely")
	require.NoError(t, err)

	_, err = f.svc.Broadcast(context.Background(), -200, Simple, "x")
	require.ErrorIs(t, err, ErrNoLinkedTargets)
	require.Empty(t, f.svc.Registry().List())

	_, err = f.svc.Broadcast(context.Background(), -999, Simple, "x")
	require.ErrorIs(t, err, ErrNotSource)
}

func TestBroadcastAllDeliveriesFailed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.out.FailChat(t1, true)
	f.out.FailChat(t2, true)

	res, err := f.svc.Broadcast(context.Background(), s1, Simple, "x")
	require.ErrorIs(t, err, ErrAllDeliveriesFailed)
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	require.Equal(t, 2, de.Total)
	_, ok := f.svc.Registry().Get(res.Task.ID)
	require.False(t, ok, "undelivered task is discarded")
}

func TestBroadcastPartialDelivery(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.out.FailChat(t2, true)

	res, err := f.svc.Broadcast(context.Background(), s1, Simple, "x")
	require.NoError(t, err)
	require.Equal(t, 1, res.Delivered)
	require.Equal(t, 2, res.Total)
}

func TestApproveNotifiesTargetsWithAttachment(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	w := Worker{ID: 5, Name: "Eve"}

	res, err := f.svc.Broadcast(ctx, s1, Simple, "job")
	require.NoError(t, err)
	_, err = f.svc.Claim(ctx, res.Task.ID, w, transport.ChatTarget{ChatID: t2})
	require.NoError(t, err)
	sub, err := f.svc.Submit(ctx, w, transport.ChatTarget{ChatID: t2}, Evidence{Kind: EvidenceAttachment, Attachment: photo})
	require.NoError(t, err)
	require.True(t, sub.Complete)

	vr, err := f.svc.Verify(ctx, res.Task.ID, Approve, Worker{ID: 99})
	require.NoError(t, err)
	require.Equal(t, Done, vr.Task.Status)
	require.Equal(t, 2, vr.Notified)
	require.Nil(t, vr.Requeue)

	for _, chat := range []int64{t1, t2} {
		p, ok := f.out.Last(chat)
		require.True(t, ok)
		require.NotNil(t, p.Attachment)
		require.True(t, strings.Contains(p.Text, "completed by Eve"))
	}
	require.Equal(t, 1, f.sink.count(ActionComplete))

	_, err = f.svc.Verify(ctx, res.Task.ID, Approve, Worker{ID: 99})
	require.ErrorIs(t, err, ErrWrongStatus)
}

func TestRequeueIncludesNewTarget(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	w := Worker{ID: 5, Name: "Eve"}

	res, err := f.svc.Broadcast(ctx, s1, Simple, "job")
	require.NoError(t, err)
	_, err = f.svc.Claim(ctx, res.Task.ID, w, transport.ChatTarget{ChatID: t1})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, w, transport.ChatTarget{ChatID: t1}, Evidence{Kind: EvidenceAttachment, Attachment: photo})
	require.NoError(t, err)

	_, err = f.graph.AddTarget(routing.TargetKey{ChatID: -3, SubThread: 4}, "T3", []int64{s1})
	require.NoError(t, err)

	vr, err := f.svc.Verify(ctx, res.Task.ID, Reject, Worker{ID: 99})
	require.NoError(t, err)
	require.Equal(t, 3, vr.Requeue.Delivered)
	p, ok := f.out.Last(-3)
	require.True(t, ok)
	require.Equal(t, 4, p.Ref.ThreadID)
	require.Contains(t, p.Text, "Reopened")
}

func TestSubmitWithoutClaim(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.svc.Submit(context.Background(), Worker{ID: 1}, transport.ChatTarget{ChatID: t1}, Evidence{Kind: EvidenceAttachment, Attachment: photo})
	require.ErrorIs(t, err, ErrNoActiveTask)
}

func TestSubmitUnreachableReviewersReturnsTask(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	w := Worker{ID: 5, Name: "Eve"}

	res, err := f.svc.Broadcast(ctx, s1, Simple, "job")
	require.NoError(t, err)
	_, err = f.svc.Claim(ctx, res.Task.ID, w, transport.ChatTarget{ChatID: t1})
	require.NoError(t, err)

	f.out.FailChat(s1, true)
	_, err = f.svc.Submit(ctx, w, transport.ChatTarget{ChatID: t1}, Evidence{Kind: EvidenceAttachment, Attachment: photo})
	require.ErrorIs(t, err, ErrAllDeliveriesFailed)

	active, ok := f.svc.Registry().ActiveFor(w.ID)
	require.True(t, ok)
	require.Equal(t, Claimed, active.Status)
}

func TestReleaseRebroadcasts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Broadcast(ctx, s1, Simple, "job")
	require.NoError(t, err)
	_, err = f.svc.Claim(ctx, res.Task.ID, Worker{ID: 5}, transport.ChatTarget{ChatID: t1})
	require.NoError(t, err)

	rb, err := f.svc.Release(ctx, res.Task.ID, Worker{ID: 1})
	require.NoError(t, err)
	require.Equal(t, 2, rb.Delivered)

	_, err = f.svc.Release(ctx, res.Task.ID, Worker{ID: 1})
	require.ErrorIs(t, err, ErrWrongStatus)
}
