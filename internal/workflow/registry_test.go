package workflow

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskbot/internal/transport"
)

var (
	w1    = Worker{ID: 1, Name: "@one"}
	w2    = Worker{ID: 2, Name: "@two"}
	roomA = transport.ChatTarget{ChatID: -1}
	photo = transport.Attachment{Kind: transport.AttachmentPhoto, FileID: "shot"}
)

func attachEv() Evidence { return Evidence{Kind: EvidenceAttachment, Attachment: photo} }
func codeEv(c string) Evidence {
	return Evidence{Kind: EvidenceCode, Code: c}
}

func TestRegistryIDsIncrease(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	a := r.Create(Simple, "a", -100)
	b := r.Create(Simple, "b", -100)
	require.Greater(t, b.ID, a.ID)
	require.NoError(t, r.Discard(a.ID))
	c := r.Create(Simple, "c", -100)
	require.Greater(t, c.ID, b.ID, "ids are never reused")
}

func TestClaimExclusiveUnderContention(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	task := r.Create(Verified, "x", -100)

	const n = 64
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		already int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := r.Claim(task.ID, Worker{ID: id}, roomA)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrAlreadyClaimed):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, n-1, already)
	got, _ := r.Get(task.ID)
	require.Equal(t, Claimed, got.Status)
}

func TestClaimErrors(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_, err := r.Claim(42, w1, roomA)
	require.ErrorIs(t, err, ErrNotFound)

	a := r.Create(Simple, "a", -100)
	b := r.Create(Simple, "b", -100)
	_, err = r.Claim(a.ID, w1, roomA)
	require.NoError(t, err)
	_, err = r.Claim(b.ID, w1, roomA)
	require.ErrorIs(t, err, ErrWorkerBusy)

	got, _ := r.Get(b.ID)
	require.Equal(t, Open, got.Status, "failed claim leaves state untouched")
}

func TestVerifiedNeedsBothInAnyOrder(t *testing.T) {
	t.Parallel()

	orders := map[string][]Evidence{
		"attachment first": {attachEv(), codeEv("4821")},
		"code first":       {codeEv("4821"), attachEv()},
	}
	for name, evs := range orders {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			r := NewRegistry()
			task := r.Create(Verified, "x", -100)
			_, err := r.Claim(task.ID, w1, roomA)
			require.NoError(t, err)

			first, err := r.Attach(w1.ID, evs[0])
			require.NoError(t, err)
			require.False(t, first.Complete)
			require.Len(t, first.Missing, 1)
			require.Equal(t, Claimed, first.Task.Status)

			second, err := r.Attach(w1.ID, evs[1])
			require.NoError(t, err)
			require.True(t, second.Complete)
			require.Equal(t, PendingReview, second.Task.Status)
			require.Equal(t, "4821", second.Task.Artifacts.Code)
			require.Equal(t, "shot", second.Task.Artifacts.Attachment.FileID)
		})
	}
}

func TestVerifiedCodeFromCaption(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	task := r.Create(Verified, "x", -100)
	_, err := r.Claim(task.ID, w1, roomA)
	require.NoError(t, err)

	ev := attachEv()
	ev.Code = "1234"
	res, err := r.Attach(w1.ID, ev)
	require.NoError(t, err)
	require.True(t, res.Complete)
}

func TestSimpleCompletesOnAttachmentAndIgnoresCode(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	task := r.Create(Simple, "x", -100)
	_, err := r.Claim(task.ID, w1, roomA)
	require.NoError(t, err)

	res, err := r.Attach(w1.ID, codeEv("1234"))
	require.NoError(t, err)
	require.True(t, res.Ignored)

	res, err = r.Attach(w1.ID, attachEv())
	require.NoError(t, err)
	require.True(t, res.Complete)

	_, err = r.Attach(w1.ID, attachEv())
	require.ErrorIs(t, err, ErrNoActiveTask, "worker has nothing claimed once under review")
}

func TestAttachWithoutClaim(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Create(Simple, "x", -100)
	_, err := r.Attach(w2.ID, attachEv())
	require.ErrorIs(t, err, ErrNoActiveTask)
}

func TestRejectRequeues(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	task := r.Create(Simple, "x", -100)
	_, err := r.Claim(task.ID, w1, roomA)
	require.NoError(t, err)
	_, err = r.Attach(w1.ID, attachEv())
	require.NoError(t, err)

	failed, err := r.Verify(task.ID, Reject)
	require.NoError(t, err)
	require.Equal(t, Failed, failed.Status)
	require.Equal(t, w1, failed.ClaimedBy())

	got, _ := r.Get(task.ID)
	require.Equal(t, Open, got.Status)
	require.Nil(t, got.Claim)
	require.Nil(t, got.Artifacts.Attachment)
	require.Equal(t, 2, got.Round)

	_, err = r.Claim(task.ID, w2, roomA)
	require.NoError(t, err, "a different worker can claim the reopened task")
}

func TestVerifyWrongStatus(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	task := r.Create(Simple, "x", -100)

	_, err := r.Verify(task.ID, Approve)
	require.ErrorIs(t, err, ErrWrongStatus)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, Open, se.Have)

	_, err = r.Verify(999, Approve)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = r.Claim(task.ID, w1, roomA)
	require.NoError(t, err)
	_, err = r.Attach(w1.ID, attachEv())
	require.NoError(t, err)
	done, err := r.Verify(task.ID, Approve)
	require.NoError(t, err)
	require.Equal(t, Done, done.Status)

	_, err = r.Verify(task.ID, Reject)
	require.ErrorIs(t, err, ErrWrongStatus)
	_, err = r.Claim(task.ID, w2, roomA)
	require.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestReleaseAndReturnToClaimant(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	task := r.Create(Simple, "x", -100)
	_, err := r.Claim(task.ID, w1, roomA)
	require.NoError(t, err)

	prev, err := r.Release(task.ID)
	require.NoError(t, err)
	require.Equal(t, w1, prev.ClaimedBy())
	_, busy := r.ActiveFor(w1.ID)
	require.False(t, busy)

	_, err = r.Claim(task.ID, w2, roomA)
	require.NoError(t, err)
	_, err = r.Attach(w2.ID, attachEv())
	require.NoError(t, err)
	back, err := r.ReturnToClaimant(task.ID)
	require.NoError(t, err)
	require.Equal(t, Claimed, back.Status)
	active, ok := r.ActiveFor(w2.ID)
	require.True(t, ok)
	require.Equal(t, task.ID, active.ID)
}

func TestReturnToClaimantKeepsNewerClaim(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	a := r.Create(Simple, "a", -100)
	b := r.Create(Simple, "b", -100)

	_, err := r.Claim(a.ID, w1, roomA)
	require.NoError(t, err)
	_, err = r.Attach(w1.ID, attachEv())
	require.NoError(t, err)
	_, err = r.Claim(b.ID, w1, roomA)
	require.NoError(t, err, "worker is free once the submission is in review")

	back, err := r.ReturnToClaimant(a.ID)
	require.ErrorIs(t, err, ErrWorkerBusy)
	require.Equal(t, Open, back.Status)
	require.Nil(t, back.Claim)
	require.Equal(t, 2, back.Round)

	active, ok := r.ActiveFor(w1.ID)
	require.True(t, ok)
	require.Equal(t, b.ID, active.ID)
	require.Len(t, r.List(Claimed), 1)

	res, err := r.Attach(w1.ID, attachEv())
	require.NoError(t, err)
	require.Equal(t, b.ID, res.Task.ID)

	_, err = r.Claim(a.ID, w2, roomA)
	require.NoError(t, err, "reopened task is claimable")
}

func TestAddPostsIgnoresStaleRound(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	task := r.Create(Simple, "x", -100)
	ref := transport.MessageRef{ChatID: -1, MessageID: 5}

	snap, err := r.AddPosts(task.ID, 2, []transport.MessageRef{ref})
	require.NoError(t, err)
	require.Empty(t, snap.Posts)

	snap, err = r.AddPosts(task.ID, 1, []transport.MessageRef{ref})
	require.NoError(t, err)
	require.Equal(t, []transport.MessageRef{ref}, snap.Posts)
}

func TestPruneDone(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	r := newRegistryAt(clock)

	done := r.Create(Simple, "d", -100)
	_, err := r.Claim(done.ID, w1, roomA)
	require.NoError(t, err)
	_, err = r.Attach(w1.ID, attachEv())
	require.NoError(t, err)
	_, err = r.Verify(done.ID, Approve)
	require.NoError(t, err)
	open := r.Create(Simple, "o", -100)

	require.Equal(t, 0, r.Prune(now.Add(-time.Minute)))
	require.Equal(t, 1, r.Prune(now.Add(time.Minute)))
	_, ok := r.Get(done.ID)
	require.False(t, ok)
	_, ok = r.Get(open.ID)
	require.True(t, ok)
	require.Equal(t, map[Status]int{Open: 1}, r.Counts())
}

func TestTransitionTable(t *testing.T) {
	t.Parallel()
	require.True(t, Open.canMoveTo(Claimed))
	require.False(t, Open.canMoveTo(PendingReview))
	require.False(t, Claimed.canMoveTo(Done))
	require.False(t, Done.canMoveTo(Open))
	require.True(t, Failed.canMoveTo(Open))
}
