package routing

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type memPersister struct {
	saves int
	fail  error
	last  Document
}

func (p *memPersister) Save(doc Document) error {
	if p.fail != nil {
		return p.fail
	}
	p.saves++
	p.last = doc
	return nil
}

func newTestGraph(t *testing.T) (*Graph, *memPersister) {
	t.Helper()
	p := &memPersister{}
	g, _ := NewGraph(Document{}, p)
	_, err := g.AddSource(-100, "HQ")
	require.NoError(t, err)
	_, err = g.AddSource(-200, "Night shift")
	require.NoError(t, err)
	_, err = g.AddTarget(TargetKey{ChatID: -1}, "Team A", []int64{-100})
	require.NoError(t, err)
	_, err = g.AddTarget(TargetKey{ChatID: -2, SubThread: 7}, "Team B", []int64{-100, -200})
	require.NoError(t, err)
	return g, p
}

func targetNames(ts []Target) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Name)
	}
	return out
}

func TestGraphAddErrors(t *testing.T) {
	t.Parallel()
	g, p := newTestGraph(t)
	saves := p.saves

	_, err := g.AddSource(-100, "again")
	require.ErrorIs(t, err, ErrDuplicateSource)

	_, err = g.AddTarget(TargetKey{ChatID: -2, SubThread: 7}, "dup", nil)
	require.ErrorIs(t, err, ErrDuplicateTarget)

	_, err = g.AddTarget(TargetKey{ChatID: -3}, "bad", []int64{-999})
	require.ErrorIs(t, err, ErrUnknownSource)

	require.Equal(t, saves, p.saves, "failed mutations must not persist")
	require.Len(t, g.Targets(), 2)
}

func TestGraphSameChatDistinctSubThreads(t *testing.T) {
	t.Parallel()
	g, _ := newTestGraph(t)

	_, err := g.AddTarget(TargetKey{ChatID: -2, SubThread: 9}, "Team B2", []int64{-200})
	require.NoError(t, err)

	tg, ok := g.ResolveTarget(-2, 9)
	require.True(t, ok)
	require.Equal(t, "Team B2", tg.Name)

	_, ok = g.ResolveTarget(-2, 0)
	require.False(t, ok)

	// Chat-wide targets answer for any thread of their chat.
	tg, ok = g.ResolveTarget(-1, 42)
	require.True(t, ok)
	require.Equal(t, "Team A", tg.Name)
}

func TestRemoveSourceCascades(t *testing.T) {
	t.Parallel()
	g, p := newTestGraph(t)

	require.NoError(t, g.RemoveSource(-100))

	for _, tg := range g.Targets() {
		require.False(t, tg.Linked(-100), "target %s still linked", tg.Name)
	}
	require.Empty(t, g.TargetsForSource(-100))
	require.Equal(t, []string{"Team A"}, targetNames(g.Unlinked()))
	require.Equal(t, []int64{-200}, p.last.Targets[1].SourceIDs)

	require.ErrorIs(t, g.RemoveSource(-100), ErrNotFound)
}

func TestTargetsForSourceOnlyLinked(t *testing.T) {
	t.Parallel()
	g, _ := newTestGraph(t)

	require.Equal(t, []string{"Team A", "Team B"}, targetNames(g.TargetsForSource(-100)))
	require.Equal(t, []string{"Team B"}, targetNames(g.TargetsForSource(-200)))
	for _, src := range g.Sources() {
		for _, tg := range g.TargetsForSource(src.ID) {
			require.True(t, tg.Linked(src.ID))
		}
	}
}

func TestSetTargetLinksIdempotent(t *testing.T) {
	t.Parallel()
	g, _ := newTestGraph(t)
	key := TargetKey{ChatID: -1}

	require.NoError(t, g.SetTargetLinks(key, []int64{-200, -200, -100}))
	first, _ := g.Target(key)
	require.NoError(t, g.SetTargetLinks(key, []int64{-200, -100}))
	second, _ := g.Target(key)
	require.Equal(t, first, second)
	require.Equal(t, []int64{-200, -100}, second.SourceIDs)

	require.ErrorIs(t, g.SetTargetLinks(key, []int64{-5}), ErrUnknownSource)
	require.ErrorIs(t, g.SetTargetLinks(TargetKey{ChatID: -77}, nil), ErrNotFound)

	names := []string{}
	for _, s := range g.SourcesForTarget(key) {
		names = append(names, s.Name)
	}
	require.Equal(t, []string{"Night shift", "HQ"}, names)
}

func TestPersistFailureLeavesGraphUnchanged(t *testing.T) {
	t.Parallel()
	g, p := newTestGraph(t)
	before := g.Document()

	p.fail = errors.New("disk full")
	require.Error(t, g.RemoveSource(-100))
	_, err := g.AddSource(-300, "new")
	require.Error(t, err)

	require.Equal(t, before, g.Document())
}

func TestQueriesReturnCopies(t *testing.T) {
	t.Parallel()
	g, _ := newTestGraph(t)

	ts := g.TargetsForSource(-100)
	ts[0].SourceIDs[0] = -999

	tg, _ := g.Target(TargetKey{ChatID: -1})
	require.Equal(t, []int64{-100}, tg.SourceIDs)
}

func TestOpenCreatesFileOnFirstMutation(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "routing.json")

	g, rewritten, err := Open(path)
	require.NoError(t, err)
	require.False(t, rewritten)
	_, err = g.AddSource(-10, "Ops")
	require.NoError(t, err)

	g2, _, err := Open(path)
	require.NoError(t, err)
	src, ok := g2.Source(-10)
	require.True(t, ok)
	require.Equal(t, "Ops", src.Name)
}
