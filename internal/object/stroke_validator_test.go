package object

import (
	"errors"
	"testing"
)

func TestParseBatchAcceptsEachStrokeType(t *testing.T) {
	v := NewValidator(0)
	raw := []byte(`[
		{"id":"a","type":"freehand","points":[{"x":0,"y":0},{"x":3,"y":4}],"color":"#ff0000","width":2},
		{"id":"b","type":"rectangle","start":{"x":0,"y":0},"end":{"x":10,"y":10}},
		{"id":"c","type":"circle","start":{"x":-5,"y":-5},"end":{"x":5,"y":5}},
		{"id":"d","type":"line","start":{"x":1,"y":1},"end":{"x":2,"y":2}},
		{"id":"e","type":"shape","data":{"kind":"star","label":"hi"}}
	]`)

	batch, err := v.ParseBatch(raw)
	if err != nil {
		t.Fatalf("ParseBatch: %v", err)
	}
	if len(batch) != 5 {
		t.Fatalf("len(batch) = %d, want 5", len(batch))
	}
	if got := IDs(batch); got[0] != "a" || got[4] != "e" {
		t.Fatalf("ids = %v, order not preserved", got)
	}
}

func TestParseBatchRejectsMalformed(t *testing.T) {
	v := NewValidator(2)
	tests := []struct {
		name string
		raw  string
	}{
		{"object instead of array", `{"id":"a","type":"freehand"}`},
		{"empty payload", ``},
		{"null entry", `[null]`},
		{"unknown type", `[{"id":"a","type":"triangle","points":[{"x":1,"y":1}]}]`},
		{"missing id", `[{"type":"freehand","points":[{"x":1,"y":1}]}]`},
		{"freehand without points", `[{"id":"a","type":"freehand"}]`},
		{"rectangle without end", `[{"id":"a","type":"rectangle","start":{"x":1,"y":1}}]`},
		{"coordinate out of range", `[{"id":"a","type":"line","start":{"x":1,"y":1},"end":{"x":2000000,"y":1}}]`},
		{"points not a list", `[{"id":"a","type":"freehand","points":"nope"}]`},
		{"too many strokes", `[{"id":"a","isDeleted":true},{"id":"b","isDeleted":true},{"id":"c","isDeleted":true}]`},
		{"deleted marker without id", `[{"isDeleted":true}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ParseBatch([]byte(tt.raw))
			if !errors.Is(err, ErrMalformedBatch) {
				t.Fatalf("ParseBatch(%s) error = %v, want ErrMalformedBatch", tt.raw, err)
			}
		})
	}
}

func TestParseBatchDeletedMarkerSkipsGeometry(t *testing.T) {
	v := NewValidator(0)
	batch, err := v.ParseBatch([]byte(`[{"id":"x","type":"freehand","isDeleted":true}]`))
	if err != nil {
		t.Fatalf("ParseBatch: %v", err)
	}
	if !batch[0].IsDeleted || batch[0].ID != "x" {
		t.Fatalf("batch[0] = %+v, want deleted marker for x", batch[0])
	}
}

func TestParseBatchSanitizesDisplayStrings(t *testing.T) {
	v := NewValidator(0)
	batch, err := v.ParseBatch([]byte(`[{"id":"s","type":"shape","color":"<b>red</b>","data":{"label":"<script>alert(1)</script>ok","nested":["<i>x</i>"]}}]`))
	if err != nil {
		t.Fatalf("ParseBatch: %v", err)
	}

	s := batch[0]
	if s.Color != "red" {
		t.Errorf("color = %q, want %q", s.Color, "red")
	}
	if s.Data["label"] != "ok" {
		t.Errorf("label = %q, want %q", s.Data["label"], "ok")
	}
	if nested := s.Data["nested"].([]any); nested[0] != "x" {
		t.Errorf("nested = %v, want [x]", nested)
	}
}

func TestPartitionAndWithout(t *testing.T) {
	batch := []Stroke{
		{ID: "a", Type: Freehand},
		{ID: "b", IsDeleted: true},
		{ID: "c", Type: Line},
		{ID: "d", IsDeleted: true},
	}

	kept, erased := Partition(batch)
	if len(kept) != 2 || kept[0].ID != "a" || kept[1].ID != "c" {
		t.Fatalf("kept = %v", IDs(kept))
	}
	if len(erased) != 2 || erased[0] != "b" || erased[1] != "d" {
		t.Fatalf("erased = %v", erased)
	}

	rest := Without([]Stroke{{ID: "a"}, {ID: "b"}, {ID: "c"}}, []string{"b", "missing"})
	if got := IDs(rest); len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("Without = %v, want [a c]", got)
	}
}
