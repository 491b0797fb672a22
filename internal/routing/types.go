// Package routing holds the graph of source rooms (where tasks originate
// and reviews happen) and target rooms (where tasks are claimed), plus the
// document it is persisted as.
package routing

import (
	"slices"
	"strconv"
)

type Source struct {
	ID   int64
	Name string
}

// TargetKey identifies a Target. SubThread 0 means the whole chat.
type TargetKey struct {
	ChatID    int64
	SubThread int
}

func (k TargetKey) String() string {
	if k.SubThread == 0 {
		return strconv.FormatInt(k.ChatID, 10)
	}
	return strconv.FormatInt(k.ChatID, 10) + "/" + strconv.Itoa(k.SubThread)
}

type Target struct {
	Key       TargetKey
	Name      string
	SourceIDs []int64
}

// Linked reports whether the target receives tasks from id.
func (t Target) Linked(id int64) bool { return slices.Contains(t.SourceIDs, id) }

func (t Target) clone() Target {
	t.SourceIDs = slices.Clone(t.SourceIDs)
	return t
}

// Persister stores a full routing document after each mutation.
type Persister interface {
	Save(doc Document) error
}
