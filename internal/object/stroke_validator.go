package object

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

// ErrMalformedBatch: the submitted batch is not a sequence of well-formed strokes
var ErrMalformedBatch = errors.New("malformed stroke batch")

// Validator: validation and sanitization of stroke batches
type Validator struct {
	validate   *validator.Validate
	sanitizer  *bluemonday.Policy
	maxStrokes int
}

// NewValidator: maxStrokes <= 0 means no batch size limit
func NewValidator(maxStrokes int) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(strokeGeometry, Stroke{})

	return &Validator{
		validate: v,
		// removes all HTML/scripts
		sanitizer:  bluemonday.StrictPolicy(),
		maxStrokes: maxStrokes,
	}
}

// ParseBatch: decodes raw as a JSON array of strokes, validates every entry and
// sanitizes display strings. Any bad entry rejects the whole batch.
func (v *Validator) ParseBatch(raw []byte) ([]Stroke, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, fmt.Errorf("%w: not a sequence", ErrMalformedBatch)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}

	if v.maxStrokes > 0 && len(entries) > v.maxStrokes {
		return nil, fmt.Errorf("%w: %d strokes (max %d)", ErrMalformedBatch, len(entries), v.maxStrokes)
	}

	batch := make([]Stroke, 0, len(entries))
	for i, entry := range entries {
		s, err := v.parseStroke(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrMalformedBatch, i, err)
		}
		batch = append(batch, s)
	}

	return batch, nil
}

func (v *Validator) parseStroke(entry json.RawMessage) (Stroke, error) {
	if bytes.Equal(bytes.TrimSpace(entry), []byte("null")) {
		return Stroke{}, errors.New("null stroke")
	}

	var s Stroke
	if err := json.Unmarshal(entry, &s); err != nil {
		return Stroke{}, err
	}

	// erase markers only need an id to match against
	if s.IsDeleted {
		if err := v.validate.Var(s.ID, "required,max=128,printascii"); err != nil {
			return Stroke{}, fmt.Errorf("'id' is invalid")
		}
		return Stroke{ID: s.ID, Type: s.Type, IsDeleted: true}, nil
	}

	if err := v.validate.Struct(&s); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return Stroke{}, formatValidationErrors(validationErrors)
		}
		return Stroke{}, fmt.Errorf("validation failed: %w", err)
	}

	s.Color = v.sanitizer.Sanitize(s.Color)
	if s.Data != nil {
		s.Data = v.sanitizeMap(s.Data)
	}
	return s, nil
}

// strokeGeometry: geometry payload must match the stroke type
func strokeGeometry(sl validator.StructLevel) {
	s := sl.Current().Interface().(Stroke)

	switch {
	case s.Type == Freehand:
		if len(s.Points) == 0 {
			sl.ReportError(s.Points, "Points", "points", "required", "")
		}
	case s.Type.cornered():
		if s.Start == nil {
			sl.ReportError(s.Start, "Start", "start", "required", "")
		}
		if s.End == nil {
			sl.ReportError(s.End, "End", "end", "required", "")
		}
	}
}

// sanitizeMap recursively sanitizes all string values in a map
func (v *Validator) sanitizeMap(data map[string]any) map[string]any {
	result := make(map[string]any, len(data))

	for key, value := range data {
		result[key] = v.sanitizeValue(value)
	}

	return result
}

// sanitizeValue sanitizes a value based on its type
func (v *Validator) sanitizeValue(value any) any {
	switch val := value.(type) {
	case string:
		return v.sanitizer.Sanitize(val)
	case map[string]any:
		return v.sanitizeMap(val)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = v.sanitizeValue(item)
		}
		return result
	default:
		// numbers, bools, nil
		return value
	}
}

// formatValidationErrors: first error only, kept short
func formatValidationErrors(errs validator.ValidationErrors) error {
	return fmt.Errorf("validation failed: %s", formatSingleError(errs[0]))
}

func formatSingleError(err validator.FieldError) string {
	field := err.Field()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("'%s' is required", field)
	case "min", "max":
		return fmt.Sprintf("'%s' value out of allowed range", field)
	case "oneof":
		return fmt.Sprintf("'%s' is not an allowed stroke type", field)
	default:
		return fmt.Sprintf("'%s' is invalid", field)
	}
}
