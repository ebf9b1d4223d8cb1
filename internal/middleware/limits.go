package middleware

import (
	"fmt"

	"golang.org/x/time/rate"
)

// Limits: connection and payload limits. Zero values disable a limit.
type Limits struct {
	MaxRoomSize        int
	MaxRooms           int
	MaxMessageSize     int
	MaxStrokesPerBatch int
	MaxDataDepth       int
	MaxDataKeys        int
	MessagesPerSecond  float64
	BurstSize          int
}

// DefaultLimits: what the server runs with when nothing is configured
func DefaultLimits() Limits {
	return Limits{
		MaxRoomSize:        50,
		MaxRooms:           1000,
		MaxMessageSize:     1 << 20,
		MaxStrokesPerBatch: 5000,
		MaxDataDepth:       10,
		MaxDataKeys:        500,
		MessagesPerSecond:  30,
		BurstSize:          60,
	}
}

// ValidateMessageSize: checks if a message is within the size limit
func (l Limits) ValidateMessageSize(msgSize int) bool {
	return l.MaxMessageSize <= 0 || msgSize <= l.MaxMessageSize
}

// NewMessageLimiter: per-session inbound message limiter
func (l Limits) NewMessageLimiter() *rate.Limiter {
	if l.MessagesPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := l.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(l.MessagesPerSecond), burst)
}

// ValidateDataComplexity: bounds nesting depth and total key count of an
// opaque stroke payload (array lengths are not counted)
func (l Limits) ValidateDataComplexity(data map[string]any) error {
	depth, keys := validateComplexity(data, 0)

	if l.MaxDataDepth > 0 && depth > l.MaxDataDepth {
		return fmt.Errorf("data nesting too deep: %d levels (max %d)", depth, l.MaxDataDepth)
	}

	if l.MaxDataKeys > 0 && keys > l.MaxDataKeys {
		return fmt.Errorf("data too complex: %d keys (max %d)", keys, l.MaxDataKeys)
	}

	return nil
}

// validateComplexity: recursively checks depth and counts keys
func validateComplexity(data any, currentDepth int) (int, int) {
	maxDepth := currentDepth
	keyCount := 0

	switch v := data.(type) {
	case map[string]any:
		keyCount = len(v)
		for _, val := range v {
			subDepth, subKeys := validateComplexity(val, currentDepth+1)
			maxDepth = max(maxDepth, subDepth)
			keyCount += subKeys
		}
	case []any:
		for _, val := range v {
			subDepth, subKeys := validateComplexity(val, currentDepth+1)
			maxDepth = max(maxDepth, subDepth)
			keyCount += subKeys
		}
	}

	return maxDepth, keyCount
}
