package campaign

import (
	"math/rand/v2"
	"time"
)

// delayPresets maps preset names to [min, max] bounds in seconds.
var delayPresets = map[string][2]int{
	"very-short": {1, 5},
	"short":      {5, 20},
	"medium":     {20, 50},
	"long":       {50, 120},
	"very-long":  {120, 300},
	"manual":     {20, 50},
}

// delayBounds returns the [min, max] delay range in milliseconds. Explicit
// bounds win over the preset; an unknown preset falls back to medium.
func delayBounds(s DelaySettings) (int, int) {
	if s.MinDelaySeconds != nil && s.MaxDelaySeconds != nil {
		return *s.MinDelaySeconds * 1000, *s.MaxDelaySeconds * 1000
	}

	bounds, ok := delayPresets[s.Preset]
	if !ok {
		bounds = delayPresets["medium"]
	}
	return bounds[0] * 1000, bounds[1] * 1000
}

// DrawDelay picks a uniformly random inter-message delay within the bounds,
// inclusive on both ends.
func DrawDelay(s DelaySettings) time.Duration {
	min, max := delayBounds(s)
	if max < min {
		max = min
	}
	ms := rand.IntN(max-min+1) + min
	return time.Duration(ms) * time.Millisecond
}
