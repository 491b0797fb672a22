package routing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDocumentRoundTrip(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"routing.json", "routing.yaml"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), name)
			store := FileStore{Path: path}

			g, _ := NewGraph(Document{}, store)
			if _, err := g.AddSource(-100, "HQ"); err != nil {
				t.Fatal(err)
			}
			if _, err := g.AddTarget(TargetKey{ChatID: -1}, "Team A", []int64{-100}); err != nil {
				t.Fatal(err)
			}
			if _, err := g.AddTarget(TargetKey{ChatID: -2, SubThread: 7}, "Team B", nil); err != nil {
				t.Fatal(err)
			}

			reloaded, migrated, err := store.Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if migrated {
				t.Fatalf("Load() migrated = true, want false")
			}
			g2, repairs := NewGraph(reloaded, store)
			if repairs != 0 {
				t.Fatalf("repairs = %d, want 0", repairs)
			}
			if diff := cmp.Diff(g.Document(), g2.Document()); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeMigratesLegacyFields(t *testing.T) {
	t.Parallel()

	legacy := `{
	  "source_groups": [{"id": -100, "name": "HQ"}],
	  "target_groups": [
	    {"id": -1, "name": "Team A", "source_id": -100, "topic_id": null},
	    {"id": -2, "name": "Team B", "source_id": -100, "topic_id": 7},
	    {"id": -3, "name": "Team C", "source_ids": [-100]}
	  ]
	}`
	doc, migrated, err := Decode("routing.json", []byte(legacy))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !migrated {
		t.Fatalf("migrated = false, want true")
	}
	want := Document{
		Sources: []SourceDoc{{ID: -100, Name: "HQ"}},
		Targets: []TargetDoc{
			{ID: -1, Name: "Team A", SourceIDs: []int64{-100}},
			{ID: -2, SubThread: 7, Name: "Team B", SourceIDs: []int64{-100}},
			{ID: -3, Name: "Team C", SourceIDs: []int64{-100}},
		},
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Fatalf("Decode() mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenRewritesMigratedDocument(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "routing.json")
	legacy := `{"sources":[{"id":-100,"name":"HQ"}],"targets":[{"id":-1,"name":"A","source_id":-100}]}`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	g, rewritten, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !rewritten {
		t.Fatalf("rewritten = false, want true")
	}
	if got := targetNames(g.TargetsForSource(-100)); !cmp.Equal(got, []string{"A"}) {
		t.Fatalf("TargetsForSource = %v, want [A]", got)
	}

	_, migrated, err := FileStore{Path: path}.Load()
	if err != nil {
		t.Fatal(err)
	}
	if migrated {
		t.Fatalf("document on disk still carries legacy fields")
	}
}

func TestNewGraphDropsDanglingLinks(t *testing.T) {
	t.Parallel()

	doc := Document{
		Sources: []SourceDoc{{ID: -100, Name: "HQ"}},
		Targets: []TargetDoc{{ID: -1, Name: "A", SourceIDs: []int64{-100, -404, -100}}},
	}
	g, repairs := NewGraph(doc, nil)
	if repairs != 2 {
		t.Fatalf("repairs = %d, want 2", repairs)
	}
	tg, _ := g.Target(TargetKey{ChatID: -1})
	if !cmp.Equal(tg.SourceIDs, []int64{-100}) {
		t.Fatalf("SourceIDs = %v, want [-100]", tg.SourceIDs)
	}
}
