package routing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Document is the persisted routing table.
type Document struct {
	Sources []SourceDoc `json:"sources" yaml:"sources"`
	Targets []TargetDoc `json:"targets" yaml:"targets"`
}

type SourceDoc struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

type TargetDoc struct {
	ID        int64   `json:"id" yaml:"id"`
	SubThread int     `json:"sub_thread,omitempty" yaml:"sub_thread,omitempty"`
	Name      string  `json:"name" yaml:"name"`
	SourceIDs []int64 `json:"source_ids" yaml:"source_ids"`
}

// rawDocument accepts the current shape and the older ones:
// "source_groups"/"target_groups" lists, "topic_id" for the sub-thread and
// a singular "source_id" link.
type rawDocument struct {
	Sources       []SourceDoc `json:"sources" yaml:"sources"`
	Targets       []rawTarget `json:"targets" yaml:"targets"`
	LegacySources []SourceDoc `json:"source_groups" yaml:"source_groups"`
	LegacyTargets []rawTarget `json:"target_groups" yaml:"target_groups"`
}

type rawTarget struct {
	ID        int64   `json:"id" yaml:"id"`
	SubThread *int    `json:"sub_thread" yaml:"sub_thread"`
	TopicID   *int    `json:"topic_id" yaml:"topic_id"`
	Name      string  `json:"name" yaml:"name"`
	SourceIDs []int64 `json:"source_ids" yaml:"source_ids"`
	SourceID  *int64  `json:"source_id" yaml:"source_id"`
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Decode parses a routing document and applies legacy field migration.
// migrated reports whether any legacy field was rewritten.
func Decode(path string, data []byte) (doc Document, migrated bool, err error) {
	var raw rawDocument
	if len(bytes.TrimSpace(data)) > 0 {
		if isYAML(path) {
			err = yaml.Unmarshal(data, &raw)
		} else {
			err = json.Unmarshal(data, &raw)
		}
		if err != nil {
			return Document{}, false, fmt.Errorf("decode routing %s: %w", path, err)
		}
	}

	doc.Sources = append(doc.Sources, raw.Sources...)
	if len(raw.LegacySources) > 0 {
		doc.Sources = append(doc.Sources, raw.LegacySources...)
		migrated = true
	}
	if len(raw.LegacyTargets) > 0 {
		migrated = true
	}
	for _, rt := range append(raw.Targets, raw.LegacyTargets...) {
		t, m := rt.migrate()
		migrated = migrated || m
		doc.Targets = append(doc.Targets, t)
	}
	if doc.Sources == nil {
		doc.Sources = []SourceDoc{}
	}
	if doc.Targets == nil {
		doc.Targets = []TargetDoc{}
	}
	return doc, migrated, nil
}

func (rt rawTarget) migrate() (TargetDoc, bool) {
	migrated := false
	t := TargetDoc{ID: rt.ID, Name: rt.Name, SourceIDs: append([]int64{}, rt.SourceIDs...)}
	switch {
	case rt.SubThread != nil:
		t.SubThread = *rt.SubThread
	case rt.TopicID != nil:
		t.SubThread = *rt.TopicID
		migrated = true
	}
	if rt.SourceID != nil {
		if len(t.SourceIDs) == 0 {
			t.SourceIDs = []int64{*rt.SourceID}
		}
		migrated = true
	}
	return t, migrated
}

// Encode renders doc as JSON or YAML depending on the path extension.
func Encode(path string, doc Document) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(doc)
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
