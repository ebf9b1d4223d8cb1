// Package storetest is a behavioural suite every store.Store backend must pass.
package storetest

import (
	"context"
	"errors"
	"testing"

	"syncboard/internal/object"
	"syncboard/internal/store"
)

// Run exercises newStore against the Store contract. newStore must return an
// empty store; Run closes it.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"UpsertDocumentCreatesDefaults", testUpsertDocumentCreatesDefaults},
		{"UpsertDocumentIsIdempotent", testUpsertDocumentIsIdempotent},
		{"UpsertDocumentWithoutOwner", testUpsertDocumentWithoutOwner},
		{"FindDocumentMissing", testFindDocumentMissing},
		{"SaveDocumentContent", testSaveDocumentContent},
		{"SaveDocumentContentCreates", testSaveDocumentContentCreates},
		{"SetDocumentReadOnly", testSetDocumentReadOnly},
		{"UpsertWhiteboardIsIdempotent", testUpsertWhiteboardIsIdempotent},
		{"ReplaceStrokes", testReplaceStrokes},
		{"RemoveStrokes", testRemoveStrokes},
		{"RemoveStrokesMissingWhiteboard", testRemoveStrokesMissingWhiteboard},
		{"SetWhiteboardViewOnly", testSetWhiteboardViewOnly},
		{"MissingID", testMissingID},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { s.Close() })
			tc.fn(t, s)
		})
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func testUpsertDocumentCreatesDefaults(t *testing.T, s store.Store) {
	doc, err := s.UpsertDocument(context.Background(), "room-1", "alice")
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if doc.ID != "room-1" || doc.Content != "" || doc.IsReadOnly {
		t.Fatalf("unexpected defaults: %+v", doc)
	}
	if got := deref(doc.OwnerID); got != "alice" {
		t.Fatalf("owner = %q, want alice", got)
	}
}

func testUpsertDocumentIsIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.UpsertDocument(ctx, "room-1", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveDocumentContent(ctx, "room-1", "hello", "bob"); err != nil {
		t.Fatal(err)
	}

	doc, err := s.UpsertDocument(ctx, "room-1", "mallory")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Content != "hello" {
		t.Errorf("content = %q, upsert must not reset it", doc.Content)
	}
	if got := deref(doc.OwnerID); got != "alice" {
		t.Errorf("owner = %q, upsert must not reassign it", got)
	}
}

func testUpsertDocumentWithoutOwner(t *testing.T, s store.Store) {
	doc, err := s.UpsertDocument(context.Background(), "room-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if doc.OwnerID != nil {
		t.Fatalf("owner = %q, want unset", *doc.OwnerID)
	}
}

func testFindDocumentMissing(t *testing.T, s store.Store) {
	_, err := s.FindDocument(context.Background(), "nope")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func testSaveDocumentContent(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.UpsertDocument(ctx, "room-1", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveDocumentContent(ctx, "room-1", "first", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveDocumentContent(ctx, "room-1", "second", "bob"); err != nil {
		t.Fatal(err)
	}

	doc, err := s.FindDocument(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Content != "second" {
		t.Errorf("content = %q, want second", doc.Content)
	}
	if got := deref(doc.LastEditorID); got != "bob" {
		t.Errorf("last editor = %q, want bob", got)
	}
	if got := deref(doc.OwnerID); got != "alice" {
		t.Errorf("owner = %q, edits must not change it", got)
	}
}

func testSaveDocumentContentCreates(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.SaveDocumentContent(ctx, "fresh", "text", ""); err != nil {
		t.Fatal(err)
	}
	doc, err := s.FindDocument(ctx, "fresh")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Content != "text" || doc.OwnerID != nil {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func testSetDocumentReadOnly(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.SetDocumentReadOnly(ctx, "nope", true); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing document: err = %v, want ErrNotFound", err)
	}

	if _, err := s.UpsertDocument(ctx, "room-1", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveDocumentContent(ctx, "room-1", "keep me", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDocumentReadOnly(ctx, "room-1", true); err != nil {
		t.Fatal(err)
	}

	doc, err := s.FindDocument(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if !doc.IsReadOnly || doc.Content != "keep me" {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func testUpsertWhiteboardIsIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	wb, err := s.UpsertWhiteboard(ctx, "board", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(wb.Strokes) != 0 || wb.ViewOnly {
		t.Fatalf("unexpected defaults: %+v", wb)
	}

	if err := s.ReplaceStrokes(ctx, "board", []object.Stroke{line("s1")}); err != nil {
		t.Fatal(err)
	}
	wb, err = s.UpsertWhiteboard(ctx, "board", "mallory")
	if err != nil {
		t.Fatal(err)
	}
	if len(wb.Strokes) != 1 || deref(wb.OwnerID) != "alice" {
		t.Fatalf("upsert changed existing whiteboard: %+v", wb)
	}
}

func testReplaceStrokes(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.ReplaceStrokes(ctx, "board", []object.Stroke{line("s1"), line("s2")}); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceStrokes(ctx, "board", []object.Stroke{line("s3")}); err != nil {
		t.Fatal(err)
	}

	wb, err := s.FindWhiteboard(ctx, "board")
	if err != nil {
		t.Fatal(err)
	}
	if got := object.IDs(wb.Strokes); len(got) != 1 || got[0] != "s3" {
		t.Fatalf("strokes = %v, want [s3]", got)
	}
	if got := wb.Strokes[0]; got.Color != "#ff0000" || len(got.Points) != 2 || got.Points[1].X != 10 {
		t.Fatalf("stroke did not round-trip: %+v", got)
	}
}

func testRemoveStrokes(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.ReplaceStrokes(ctx, "board", []object.Stroke{line("s1"), line("s2"), line("s3")}); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveStrokes(ctx, "board", []string{"s2", "ghost"}); err != nil {
		t.Fatal(err)
	}

	wb, err := s.FindWhiteboard(ctx, "board")
	if err != nil {
		t.Fatal(err)
	}
	got := object.IDs(wb.Strokes)
	if len(got) != 2 || got[0] != "s1" || got[1] != "s3" {
		t.Fatalf("strokes = %v, want [s1 s3]", got)
	}
}

func testRemoveStrokesMissingWhiteboard(t *testing.T, s store.Store) {
	if err := s.RemoveStrokes(context.Background(), "nope", []string{"s1"}); err != nil {
		t.Fatalf("RemoveStrokes on missing whiteboard: %v", err)
	}
}

func testSetWhiteboardViewOnly(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.SetWhiteboardViewOnly(ctx, "nope", true); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing whiteboard: err = %v, want ErrNotFound", err)
	}

	if _, err := s.UpsertWhiteboard(ctx, "board", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetWhiteboardViewOnly(ctx, "board", true); err != nil {
		t.Fatal(err)
	}
	wb, err := s.FindWhiteboard(ctx, "board")
	if err != nil {
		t.Fatal(err)
	}
	if !wb.ViewOnly {
		t.Fatal("view-only flag not persisted")
	}
}

func testMissingID(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.UpsertDocument(ctx, "", "alice"); !errors.Is(err, store.ErrMissingID) {
		t.Errorf("UpsertDocument: err = %v", err)
	}
	if _, err := s.UpsertWhiteboard(ctx, "", "alice"); !errors.Is(err, store.ErrMissingID) {
		t.Errorf("UpsertWhiteboard: err = %v", err)
	}
	if err := s.SaveDocumentContent(ctx, "", "x", ""); !errors.Is(err, store.ErrMissingID) {
		t.Errorf("SaveDocumentContent: err = %v", err)
	}
	if err := s.ReplaceStrokes(ctx, "", nil); !errors.Is(err, store.ErrMissingID) {
		t.Errorf("ReplaceStrokes: err = %v", err)
	}
}

func line(id string) object.Stroke {
	return object.Stroke{
		ID:     id,
		Type:   object.Freehand,
		Points: []object.Point{{X: 0, Y: 0}, {X: 10, Y: 5}},
		Color:  "#ff0000",
		Width:  2,
	}
}
