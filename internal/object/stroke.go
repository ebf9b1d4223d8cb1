package object

// Stroke is one drawable unit on a whiteboard.
// IsDeleted only travels on the wire; persisted collections never carry it.
type Stroke struct {
	ID        string         `json:"id" validate:"required,max=128,printascii"`
	Type      StrokeType     `json:"type" validate:"required,oneof=freehand rectangle circle line shape"`
	Points    []Point        `json:"points,omitempty" validate:"omitempty,max=10000,dive"`
	Start     *Point         `json:"start,omitempty"`
	End       *Point         `json:"end,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Color     string         `json:"color,omitempty" validate:"omitempty,max=50"`
	Width     float64        `json:"width,omitempty" validate:"omitempty,min=0,max=1000"`
	IsDeleted bool           `json:"isDeleted,omitempty"`
}

// Partition: splits a batch into the strokes to keep and the ids to erase.
// Order within each half follows the batch.
func Partition(batch []Stroke) (kept []Stroke, erased []string) {
	kept = make([]Stroke, 0, len(batch))
	for _, s := range batch {
		if s.IsDeleted {
			erased = append(erased, s.ID)
			continue
		}
		kept = append(kept, s)
	}
	return kept, erased
}

// Without: returns strokes minus any whose id is in ids (set difference by id).
func Without(strokes []Stroke, ids []string) []Stroke {
	if len(ids) == 0 {
		return strokes
	}

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	out := make([]Stroke, 0, len(strokes))
	for _, s := range strokes {
		if _, gone := drop[s.ID]; gone {
			continue
		}
		out = append(out, s)
	}
	return out
}

// IDs returns the stroke ids in order.
func IDs(strokes []Stroke) []string {
	ids := make([]string, len(strokes))
	for i, s := range strokes {
		ids[i] = s.ID
	}
	return ids
}
