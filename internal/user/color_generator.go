package user

import (
	"hash/fnv"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
)

const goldenRatio = 0.618033988749895

// ColorGenerator: hands out well-spread presence colors for one room
type ColorGenerator struct {
	offset  float64
	counter int
	mu      sync.Mutex
}

// NewColorGenerator: seed shifts the starting hue so rooms don't all open
// with the same first color
func NewColorGenerator(seed string) *ColorGenerator {
	h := fnv.New32a()
	h.Write([]byte(seed))

	return &ColorGenerator{
		offset: float64(h.Sum32()%360) / 360,
	}
}

// NextColor: returns the next hex color in the golden ratio sequence
func (cg *ColorGenerator) NextColor() string {
	cg.mu.Lock()
	defer cg.mu.Unlock()

	hue := cg.offset + float64(cg.counter)*goldenRatio
	hue -= float64(int(hue)) // fractional part
	cg.counter++

	return colorful.Hsl(hue*360, 0.85, 0.55).Hex()
}
