package handlers

import (
	"context"
	"errors"
	"testing"

	"syncboard/internal/object"
)

func storedIDs(t *testing.T, f *fixture, roomID string) []string {
	t.Helper()
	wb, err := f.store.FindWhiteboard(context.Background(), roomID)
	if err != nil {
		t.Fatal(err)
	}
	return object.IDs(wb.Strokes)
}

func sameIDs(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestJoinWhiteboardSendsState(t *testing.T) {
	f := newFixture(t)
	a := f.connect("")
	f.send(a, map[string]any{"type": "join-whiteboard", "roomId": "r2", "requesterId": "A"})

	if strokes, ok := a.waitFor("load-whiteboard")["strokes"].([]any); !ok || len(strokes) != 0 {
		t.Fatalf("strokes = %v, want empty list", a.waitFor("load-whiteboard")["strokes"])
	}
	if a.waitFor("receive-status")["status"] != true {
		t.Fatal("receive-status should be true")
	}
	vo := a.waitFor("update-view-only")
	if vo["viewOnly"] != false || vo["ownerId"] != "A" {
		t.Fatalf("update-view-only = %v", vo)
	}
}

func TestSubmitStrokesBroadcastsAndDebounces(t *testing.T) {
	f := newFixture(t)
	a := f.connect("")
	b := f.connect("")
	f.send(a, map[string]any{"type": "join-whiteboard", "roomId": "r2", "requesterId": "A"})
	f.send(b, map[string]any{"type": "join-whiteboard", "roomId": "r2"})

	f.send(a, map[string]any{"type": "submit-strokes", "roomId": "r2", "editorId": "A",
		"strokes": strokesJSON(t, freehand("s1"))})
	f.send(a, map[string]any{"type": "submit-strokes", "roomId": "r2", "editorId": "A",
		"strokes": strokesJSON(t, freehand("s1"), freehand("s2"))})

	if n := b.count("update-whiteboard"); n != 2 {
		t.Fatalf("B got %d updates, want 2", n)
	}
	if n := a.count("update-whiteboard"); n != 0 {
		t.Fatal("submitter should not get its own batch")
	}

	f.elapse()
	waitUntil(t, "replace", func() bool { return f.store.replaceCount() == 1 })
	if got := storedIDs(t, f, "r2"); !sameIDs(got, "s1", "s2") {
		t.Fatalf("stored %v, want [s1 s2]", got)
	}
}

func TestEraseRemovesImmediatelyAndFromPending(t *testing.T) {
	f := newFixture(t)
	a := f.connect("")
	b := f.connect("")
	f.send(a, map[string]any{"type": "join-whiteboard", "roomId": "r2", "requesterId": "A"})
	f.send(b, map[string]any{"type": "join-whiteboard", "roomId": "r2"})

	// persisted {s1, s2, s3}
	f.send(a, map[string]any{"type": "submit-strokes", "roomId": "r2", "editorId": "A",
		"strokes": strokesJSON(t, freehand("s1"), freehand("s2"), freehand("s3"))})
	f.elapse()
	waitUntil(t, "first replace", func() bool { return f.store.replaceCount() == 1 })

	// erase s2 while drawing s4
	f.send(a, map[string]any{"type": "submit-strokes", "roomId": "r2", "editorId": "A",
		"strokes": strokesJSON(t, freehand("s1"), erase("s2"), freehand("s3"), freehand("s4"))})

	if got := storedIDs(t, f, "r2"); !sameIDs(got, "s1", "s3") {
		t.Fatalf("after erase stored %v, want [s1 s3]", got)
	}
	if n := f.store.removeCount(); n != 1 {
		t.Fatalf("%d immediate removals, want 1", n)
	}

	update := b.nth("update-whiteboard", 2)
	erased, _ := update["erased"].([]any)
	strokes, _ := update["strokes"].([]any)
	if len(erased) != 1 || erased[0] != "s2" || len(strokes) != 3 {
		t.Fatalf("update = %v", update)
	}

	f.elapse()
	waitUntil(t, "second replace", func() bool { return f.store.replaceCount() == 2 })
	if got := storedIDs(t, f, "r2"); !sameIDs(got, "s1", "s3", "s4") {
		t.Fatalf("final stored %v, want [s1 s3 s4]", got)
	}
}

func TestEraseOnlyTrimsQueuedReplace(t *testing.T) {
	f := newFixture(t)
	a := f.connect("")
	f.send(a, map[string]any{"type": "join-whiteboard", "roomId": "r2", "requesterId": "A"})

	f.send(a, map[string]any{"type": "submit-strokes", "roomId": "r2", "editorId": "A",
		"strokes": strokesJSON(t, freehand("s1"), freehand("s2"))})
	f.send(a, map[string]any{"type": "submit-strokes", "roomId": "r2", "editorId": "A",
		"strokes": strokesJSON(t, erase("s1"))})

	f.elapse()
	waitUntil(t, "replace", func() bool { return f.store.replaceCount() >= 1 })
	if got := storedIDs(t, f, "r2"); !sameIDs(got, "s2") {
		t.Fatalf("stored %v, want [s2]", got)
	}
}

func TestEmptyBatchDoesNothing(t *testing.T) {
	f := newFixture(t)
	a := f.connect("")
	b := f.connect("")
	f.send(a, map[string]any{"type": "join-whiteboard", "roomId": "r2", "requesterId": "A"})
	f.send(b, map[string]any{"type": "join-whiteboard", "roomId": "r2"})

	f.send(a, map[string]any{"type": "submit-strokes", "roomId": "r2", "editorId": "A", "strokes": []any{}})

	if n := b.count("update-whiteboard"); n != 0 {
		t.Fatal("empty batch was broadcast")
	}
	if f.sched.Pending(debounceKey("r2")) {
		t.Fatal("empty batch scheduled a write")
	}
}

func TestMalformedBatchIsDropped(t *testing.T) {
	f := newFixture(t)
	a := f.connect("")
	b := f.connect("")
	f.send(a, map[string]any{"type": "join-whiteboard", "roomId": "r2", "requesterId": "A"})
	f.send(b, map[string]any{"type": "join-whiteboard", "roomId": "r2"})

	bad := []any{
		map[string]any{"id": "x"},                           // not an array
		[]any{map[string]any{"id": "x", "type": "teapot"}},  // unknown type
		"[{\"id\":\"s1\",\"type\":\"freehand\"}]",           // stringified, but no points
		[]any{map[string]any{"id": "deep", "type": "shape", "data": map[string]any{
			"a": map[string]any{"b": map[string]any{"c": map[string]any{"d": map[string]any{"e": 1}}}},
		}}},
	}
	for _, strokes := range bad {
		err := f.route(a, map[string]any{"type": "submit-strokes", "roomId": "r2", "editorId": "A", "strokes": strokes})
		if !errors.Is(err, object.ErrMalformedBatch) {
			t.Errorf("strokes %v: err = %v, want ErrMalformedBatch", strokes, err)
		}
	}

	if n := b.count("update-whiteboard"); n != 0 {
		t.Fatalf("malformed batch broadcast %d times", n)
	}
	if f.sched.Pending(debounceKey("r2")) {
		t.Fatal("malformed batch scheduled a write")
	}
}

func TestStringifiedBatchAccepted(t *testing.T) {
	f := newFixture(t)
	a := f.connect("")
	b := f.connect("")
	f.send(a, map[string]any{"type": "get-whiteboard", "roomId": "r2", "requesterId": "A"})
	f.send(b, map[string]any{"type": "get-whiteboard", "roomId": "r2"})

	f.send(a, map[string]any{"type": "draw", "roomId": "r2", "userId": "A",
		"strokes": string(strokesJSON(t, freehand("s1")))})
	b.waitFor("update-whiteboard")
}

func TestSubmitToUnknownWhiteboardIsDropped(t *testing.T) {
	f := newFixture(t)
	a := f.connect("")
	f.send(a, map[string]any{"type": "submit-strokes", "roomId": "ghost", "editorId": "A",
		"strokes": strokesJSON(t, freehand("s1"))})

	if _, err := f.store.FindWhiteboard(context.Background(), "ghost"); err == nil {
		t.Fatal("submit must not create a whiteboard")
	}
}

func TestToggleViewOnlyOwnerOnly(t *testing.T) {
	f := newFixture(t)
	a := f.connect("")
	b := f.connect("")
	f.send(a, map[string]any{"type": "join-whiteboard", "roomId": "r2", "requesterId": "A"})
	f.send(b, map[string]any{"type": "join-whiteboard", "roomId": "r2", "requesterId": "B"})

	f.send(b, map[string]any{"type": "toggle-whiteboard-viewonly", "roomId": "r2", "requesterId": "B"})
	wb, _ := f.store.FindWhiteboard(context.Background(), "r2")
	if wb.ViewOnly {
		t.Fatal("non-owner toggled view-only")
	}

	f.send(a, map[string]any{"type": "toggle-view-only", "roomId": "r2", "requesterId": "A"})
	f.send(a, map[string]any{"type": "toggle-view-only", "roomId": "r2", "requesterId": "A"})
	wb, _ = f.store.FindWhiteboard(context.Background(), "r2")
	if wb.ViewOnly {
		t.Fatal("two toggles should cancel out")
	}
	// join status + two toggles, for both members
	if n := a.count("update-view-only"); n != 3 {
		t.Fatalf("owner saw %d view-only messages, want 3", n)
	}
	if n := b.count("update-view-only"); n != 3 {
		t.Fatalf("member saw %d view-only messages, want 3", n)
	}
}

func TestViewOnlyGatesStrokes(t *testing.T) {
	f := newFixture(t)
	a := f.connect("")
	b := f.connect("")
	f.send(a, map[string]any{"type": "join-whiteboard", "roomId": "r2", "requesterId": "A"})
	f.send(b, map[string]any{"type": "join-whiteboard", "roomId": "r2"})
	f.send(a, map[string]any{"type": "toggle-whiteboard-viewonly", "roomId": "r2", "requesterId": "A"})

	f.send(b, map[string]any{"type": "submit-strokes", "roomId": "r2", "editorId": "B",
		"strokes": strokesJSON(t, freehand("x"))})
	if n := a.count("update-whiteboard"); n != 0 {
		t.Fatal("view-only batch from non-owner was broadcast")
	}

	f.send(a, map[string]any{"type": "submit-strokes", "roomId": "r2", "editorId": "A",
		"strokes": strokesJSON(t, freehand("y"))})
	if got := b.waitFor("update-whiteboard")["strokes"].([]any); len(got) != 1 {
		t.Fatalf("owner batch = %v", got)
	}
}

func TestJoinSeesQueuedStrokes(t *testing.T) {
	f := newFixture(t)
	a := f.connect("")
	f.send(a, map[string]any{"type": "join-whiteboard", "roomId": "r2", "requesterId": "A"})
	f.send(a, map[string]any{"type": "submit-strokes", "roomId": "r2", "editorId": "A",
		"strokes": strokesJSON(t, freehand("s1"))})

	late := f.connect("")
	f.send(late, map[string]any{"type": "join-whiteboard", "roomId": "r2"})
	strokes, _ := late.waitFor("load-whiteboard")["strokes"].([]any)
	if len(strokes) != 1 {
		t.Fatalf("late joiner got %v, want the queued stroke", strokes)
	}
}

func TestEraseDuringInFlightReplace(t *testing.T) {
	f := newFixture(t)
	replaces := f.store.gateReplaces()
	a := f.connect("")
	f.send(a, map[string]any{"type": "join-whiteboard", "roomId": "r2", "requesterId": "A"})

	f.send(a, map[string]any{"type": "submit-strokes", "roomId": "r2", "editorId": "A",
		"strokes": strokesJSON(t, freehand("s1"), freehand("s2"))})
	f.elapse()
	replaces.wait(t)

	// the replace carrying s1 is mid-write when s1 is erased
	f.send(a, map[string]any{"type": "submit-strokes", "roomId": "r2", "editorId": "A",
		"strokes": strokesJSON(t, erase("s1"))})
	if !f.sched.Pending(debounceKey("r2")) {
		t.Fatal("erase did not re-arm the write")
	}
	f.router.Disconnect(a.session)

	replaces.release()
	waitUntil(t, "in-flight replace", func() bool { return f.store.replaceCount() == 1 })
	if _, wb := f.cached("r2"); !wb {
		t.Fatal("whiteboard state dropped with a replace still queued")
	}

	f.elapse()
	waitUntil(t, "re-armed replace", func() bool { return f.store.replaceCount() == 2 })
	if got := storedIDs(t, f, "r2"); !sameIDs(got, "s2") {
		t.Fatalf("stored %v, want [s2]", got)
	}
	waitUntil(t, "state released after the last replace", func() bool {
		_, wb := f.cached("r2")
		return !wb
	})
}
