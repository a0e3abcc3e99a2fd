package navigation

import (
	"fmt"
	"math"

	"github.com/sanonone/wayfinder/pkg/geo"
)

// describe renders an instruction as a short sentence for display or speech.
func describe(in Instruction) string {
	meters := int(math.Round(in.DistanceMeters))
	dir := in.Cardinal.Word()
	switch in.Turn {
	case geo.TurnUnknown, geo.TurnAhead:
		return fmt.Sprintf("Head %s for %d m", dir, meters)
	case geo.TurnBehind:
		return fmt.Sprintf("Turn around and head %s for %d m", dir, meters)
	default:
		return fmt.Sprintf("Turn %s and head %s for %d m", in.Turn, dir, meters)
	}
}
