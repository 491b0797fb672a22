package routing

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps the routing document in one file, rewritten atomically.
type FileStore struct {
	Path string
}

// Load reads the document. A missing file yields an empty document.
func (s FileStore) Load() (Document, bool, error) {
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Document{Sources: []SourceDoc{}, Targets: []TargetDoc{}}, false, nil
	}
	if err != nil {
		return Document{}, false, err
	}
	return Decode(s.Path, b)
}

func (s FileStore) Save(doc Document) error {
	b, err := Encode(s.Path, doc)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return fmt.Errorf("replace %s: %w", s.Path, err)
	}
	return nil
}

// Open loads the document at path and builds a graph persisted back to it.
// Migrated or repaired documents are rewritten before the graph is returned.
func Open(path string) (*Graph, bool, error) {
	fsStore := FileStore{Path: path}
	doc, migrated, err := fsStore.Load()
	if err != nil {
		return nil, false, err
	}
	g, repairs := NewGraph(doc, fsStore)
	rewritten := migrated || repairs > 0
	if rewritten {
		if err := fsStore.Save(g.Document()); err != nil {
			return nil, false, fmt.Errorf("rewrite migrated routing: %w", err)
		}
	}
	return g, rewritten, nil
}
