package object

// StrokeType is the closed set of drawable kinds.
type StrokeType string

const (
	Freehand  StrokeType = "freehand"
	Rectangle StrokeType = "rectangle"
	Circle    StrokeType = "circle"
	Line      StrokeType = "line"
	// Shape carries an opaque, externally defined payload in Data.
	Shape StrokeType = "shape"
)

// cornered: types whose geometry is two corner points
func (t StrokeType) cornered() bool {
	return t == Rectangle || t == Circle || t == Line
}

// Point: a single point in a path, or a corner of a box-shaped stroke
type Point struct {
	X float64 `json:"x" validate:"min=-1000000,max=1000000"`
	Y float64 `json:"y" validate:"min=-1000000,max=1000000"`
}
