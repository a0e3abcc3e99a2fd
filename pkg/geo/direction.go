package geo

import "math"

// Cardinal is one of the eight compass buckets used in spoken instructions.
type Cardinal int

const (
	North Cardinal = iota
	NorthEast
	East
	SouthEast
	South
	SouthWest
	West
	NorthWest
)

var cardinalNames = [...]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}
var cardinalWords = [...]string{"north", "northeast", "east", "southeast", "south", "southwest", "west", "northwest"}

func (c Cardinal) String() string {
	if c < North || c > NorthWest {
		return "?"
	}
	return cardinalNames[c]
}

// Word is the lowercase long form ("northeast").
func (c Cardinal) Word() string {
	if c < North || c > NorthWest {
		return "unknown"
	}
	return cardinalWords[c]
}

// CardinalOf buckets a bearing into 45° sectors centred on each direction.
func CardinalOf(bearing float64) Cardinal {
	b := NormalizeDegrees(bearing)
	return Cardinal(int(math.Floor((b+22.5)/45)) % 8)
}

// Turn is a heading-relative direction.
type Turn int

const (
	TurnUnknown Turn = iota
	TurnAhead
	TurnSlightRight
	TurnRight
	TurnBehind
	TurnLeft
	TurnSlightLeft
)

func (t Turn) String() string {
	switch t {
	case TurnAhead:
		return "ahead"
	case TurnSlightRight:
		return "slight right"
	case TurnRight:
		return "right"
	case TurnBehind:
		return "behind"
	case TurnLeft:
		return "left"
	case TurnSlightLeft:
		return "slight left"
	default:
		return "unknown"
	}
}

// Relative converts an absolute bearing to a turn, given the direction the
// device is facing (magnetometer heading, degrees from north).
func Relative(heading, bearing float64) Turn {
	delta := NormalizeDegrees(bearing - heading)
	switch {
	case delta < 22.5 || delta >= 337.5:
		return TurnAhead
	case delta < 67.5:
		return TurnSlightRight
	case delta < 135:
		return TurnRight
	case delta < 225:
		return TurnBehind
	case delta < 292.5:
		return TurnLeft
	default:
		return TurnSlightLeft
	}
}
