// Package levelcurve maps experience points to levels and in-level progress.
//
// The curve is quadratic: level L spans [100*(L-1)^2, 100*L^2). The constants
// are fixed for compatibility with stored XP values.
package levelcurve

import "math"

const xpScale = 100

// MinLevel is the first level; every level argument below it is treated as it.
const MinLevel = 1

// MaxLevel is the last level whose XP ceiling fits in an int64. Larger level
// arguments are treated as it.
const MaxLevel = 303700049

func clampLevel(level int) int64 {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return int64(level)
}

// XPFloor is the total XP at which level starts.
func XPFloor(level int) int64 {
	l := clampLevel(level) - 1
	return xpScale * l * l
}

// XPCeil is the total XP at which level ends (and level+1 starts).
func XPCeil(level int) int64 {
	l := clampLevel(level)
	return xpScale * l * l
}

// LevelForXP estimates the level for xp. Levels supplied by the server are
// authoritative; this is only for display when no level is known.
func LevelForXP(xp int64) int {
	if xp < 0 {
		xp = 0
	}
	if xp >= XPCeil(MaxLevel) {
		return MaxLevel
	}
	l := int64(math.Sqrt(float64(xp)/xpScale)) + 1
	if l > MaxLevel {
		l = MaxLevel
	}
	// Correct float rounding at the boundaries.
	for l > MinLevel && XPFloor(int(l)) > xp {
		l--
	}
	for l < MaxLevel && XPCeil(int(l)) <= xp {
		l++
	}
	return int(l)
}

// Progress is the fraction of level completed by xp, always within [0,1].
// Stale pairs where xp is outside the level's range clamp instead of failing.
func Progress(xp int64, level int) float64 {
	floor, ceil := XPFloor(level), XPCeil(level)
	if ceil <= floor {
		return 0
	}
	f := float64(inLevel(xp, floor)) / float64(ceil-floor)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func inLevel(xp, floor int64) int64 {
	if xp <= floor {
		return 0
	}
	return xp - floor
}

// Standing is the derived position of a user on the curve.
type Standing struct {
	Level    int     `json:"level"`
	XP       int64   `json:"xp"`
	Floor    int64   `json:"xp_floor"`
	Ceil     int64   `json:"xp_ceil"`
	InLevel  int64   `json:"xp_in_level"`
	Needed   int64   `json:"xp_needed"`
	Span     int64   `json:"xp_span"`
	Progress float64 `json:"progress"`
}

// Describe derives the standing for a server-supplied level. The level is
// never overridden from xp.
func Describe(xp int64, level int) Standing {
	lvl := int(clampLevel(level))
	floor, ceil := XPFloor(lvl), XPCeil(lvl)
	var needed int64
	if xp < ceil {
		needed = ceil - max(xp, 0)
	}
	return Standing{
		Level:    lvl,
		XP:       xp,
		Floor:    floor,
		Ceil:     ceil,
		InLevel:  inLevel(xp, floor),
		Needed:   needed,
		Span:     ceil - floor,
		Progress: Progress(xp, lvl),
	}
}
