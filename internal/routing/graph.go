package routing

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// Graph is the routing table. Every mutation is one transaction: it is
// applied to a copy, persisted, and only then made visible. A failed call
// leaves the graph untouched.
type Graph struct {
	mu       sync.RWMutex
	st       state
	persist  Persister
	onChange func()
}

type state struct {
	sources []Source
	targets []Target
}

func (s state) clone() state {
	out := state{sources: slices.Clone(s.sources), targets: make([]Target, len(s.targets))}
	for i, t := range s.targets {
		out.targets[i] = t.clone()
	}
	return out
}

func (s state) sourceIndex(id int64) int {
	return slices.IndexFunc(s.sources, func(src Source) bool { return src.ID == id })
}

func (s state) targetIndex(k TargetKey) int {
	return slices.IndexFunc(s.targets, func(t Target) bool { return t.Key == k })
}

// NewGraph builds a graph from doc. Links to unknown sources and repeated
// entries are dropped; the number of repairs is returned so the caller can
// log them and rewrite the document.
func NewGraph(doc Document, p Persister) (*Graph, int) {
	var st state
	repairs := 0
	for _, s := range doc.Sources {
		if st.sourceIndex(s.ID) >= 0 {
			repairs++
			continue
		}
		st.sources = append(st.sources, Source{ID: s.ID, Name: defaultName(s.Name, s.ID)})
	}
	for _, t := range doc.Targets {
		key := TargetKey{ChatID: t.ID, SubThread: t.SubThread}
		if st.targetIndex(key) >= 0 {
			repairs++
			continue
		}
		ids := make([]int64, 0, len(t.SourceIDs))
		for _, id := range t.SourceIDs {
			if st.sourceIndex(id) < 0 || slices.Contains(ids, id) {
				repairs++
				continue
			}
			ids = append(ids, id)
		}
		st.targets = append(st.targets, Target{Key: key, Name: defaultName(t.Name, t.ID), SourceIDs: ids})
	}
	return &Graph{st: st, persist: p}, repairs
}

// OnChange registers a hook called after every committed mutation.
func (g *Graph) OnChange(fn func()) {
	g.mu.Lock()
	g.onChange = fn
	g.mu.Unlock()
}

func (g *Graph) mutate(fn func(st *state) error) error {
	g.mu.Lock()
	next := g.st.clone()
	if err := fn(&next); err != nil {
		g.mu.Unlock()
		return err
	}
	if g.persist != nil {
		if err := g.persist.Save(next.document()); err != nil {
			g.mu.Unlock()
			return fmt.Errorf("persist routing: %w", err)
		}
	}
	g.st = next
	hook := g.onChange
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (g *Graph) AddSource(id int64, name string) (Source, error) {
	src := Source{ID: id, Name: defaultName(name, id)}
	err := g.mutate(func(st *state) error {
		if st.sourceIndex(id) >= 0 {
			return fmt.Errorf("source %d: %w", id, ErrDuplicateSource)
		}
		st.sources = append(st.sources, src)
		return nil
	})
	if err != nil {
		return Source{}, err
	}
	return src, nil
}

func (g *Graph) RenameSource(id int64, name string) error {
	return g.mutate(func(st *state) error {
		i := st.sourceIndex(id)
		if i < 0 {
			return fmt.Errorf("source %d: %w", id, ErrNotFound)
		}
		st.sources[i].Name = defaultName(name, id)
		return nil
	})
}

// RemoveSource deletes the source and strips it from every target.
func (g *Graph) RemoveSource(id int64) error {
	return g.mutate(func(st *state) error {
		i := st.sourceIndex(id)
		if i < 0 {
			return fmt.Errorf("source %d: %w", id, ErrNotFound)
		}
		st.sources = slices.Delete(st.sources, i, i+1)
		for j := range st.targets {
			st.targets[j].SourceIDs = slices.DeleteFunc(st.targets[j].SourceIDs, func(v int64) bool { return v == id })
		}
		return nil
	})
}

func (g *Graph) AddTarget(key TargetKey, name string, sourceIDs []int64) (Target, error) {
	var out Target
	err := g.mutate(func(st *state) error {
		if st.targetIndex(key) >= 0 {
			return fmt.Errorf("target %s: %w", key, ErrDuplicateTarget)
		}
		ids, err := st.checkSources(sourceIDs)
		if err != nil {
			return err
		}
		out = Target{Key: key, Name: defaultName(name, key.ChatID), SourceIDs: ids}
		st.targets = append(st.targets, out)
		return nil
	})
	if err != nil {
		return Target{}, err
	}
	return out.clone(), nil
}

func (g *Graph) RemoveTarget(key TargetKey) error {
	return g.mutate(func(st *state) error {
		i := st.targetIndex(key)
		if i < 0 {
			return fmt.Errorf("target %s: %w", key, ErrNotFound)
		}
		st.targets = slices.Delete(st.targets, i, i+1)
		return nil
	})
}

// SetTargetLinks replaces the full source set of a target. Repeated ids
// collapse, so applying the same set twice is a no-op.
func (g *Graph) SetTargetLinks(key TargetKey, sourceIDs []int64) error {
	return g.mutate(func(st *state) error {
		i := st.targetIndex(key)
		if i < 0 {
			return fmt.Errorf("target %s: %w", key, ErrNotFound)
		}
		ids, err := st.checkSources(sourceIDs)
		if err != nil {
			return err
		}
		st.targets[i].SourceIDs = ids
		return nil
	})
}

func (s *state) checkSources(ids []int64) ([]int64, error) {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if s.sourceIndex(id) < 0 {
			return nil, fmt.Errorf("source %d: %w", id, ErrUnknownSource)
		}
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out, nil
}

// TargetsForSource returns every target linked to id, in insertion order.
func (g *Graph) TargetsForSource(id int64) []Target {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Target
	for _, t := range g.st.targets {
		if t.Linked(id) {
			out = append(out, t.clone())
		}
	}
	return out
}

func (g *Graph) SourcesForTarget(key TargetKey) []Source {
	g.mu.RLock()
	defer g.mu.RUnlock()
	i := g.st.targetIndex(key)
	if i < 0 {
		return nil
	}
	out := make([]Source, 0, len(g.st.targets[i].SourceIDs))
	for _, id := range g.st.targets[i].SourceIDs {
		if j := g.st.sourceIndex(id); j >= 0 {
			out = append(out, g.st.sources[j])
		}
	}
	return out
}

// ResolveTarget maps a room (chat + forum thread) to its target: the exact
// sub-thread target first, then the chat-wide one.
func (g *Graph) ResolveTarget(chatID int64, threadID int) (Target, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if i := g.st.targetIndex(TargetKey{ChatID: chatID, SubThread: threadID}); i >= 0 {
		return g.st.targets[i].clone(), true
	}
	if threadID != 0 {
		if i := g.st.targetIndex(TargetKey{ChatID: chatID}); i >= 0 {
			return g.st.targets[i].clone(), true
		}
	}
	return Target{}, false
}

func (g *Graph) Source(id int64) (Source, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if i := g.st.sourceIndex(id); i >= 0 {
		return g.st.sources[i], true
	}
	return Source{}, false
}

func (g *Graph) IsSource(id int64) bool {
	_, ok := g.Source(id)
	return ok
}

func (g *Graph) Target(key TargetKey) (Target, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if i := g.st.targetIndex(key); i >= 0 {
		return g.st.targets[i].clone(), true
	}
	return Target{}, false
}

func (g *Graph) Sources() []Source {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.st.sources)
}

func (g *Graph) Targets() []Target {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Target, len(g.st.targets))
	for i, t := range g.st.targets {
		out[i] = t.clone()
	}
	return out
}

// Unlinked returns the targets that currently receive no tasks.
func (g *Graph) Unlinked() []Target {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Target
	for _, t := range g.st.targets {
		if len(t.SourceIDs) == 0 {
			out = append(out, t.clone())
		}
	}
	return out
}

// Document snapshots the graph in its persisted shape.
func (g *Graph) Document() Document {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.st.document()
}

func (s state) document() Document {
	doc := Document{
		Sources: make([]SourceDoc, 0, len(s.sources)),
		Targets: make([]TargetDoc, 0, len(s.targets)),
	}
	for _, src := range s.sources {
		doc.Sources = append(doc.Sources, SourceDoc{ID: src.ID, Name: src.Name})
	}
	for _, t := range s.targets {
		doc.Targets = append(doc.Targets, TargetDoc{
			ID:        t.Key.ChatID,
			SubThread: t.Key.SubThread,
			Name:      t.Name,
			SourceIDs: append([]int64{}, t.SourceIDs...),
		})
	}
	return doc
}

func defaultName(name string, id int64) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return "Group " + strconv.FormatInt(id, 10)
}
