// Package pressure defines the discrete resource pressure scale shared by
// the monitor, the scheduler, and configuration.
package pressure

import "fmt"

// Level classifies how constrained the device's battery, thermal, and CPU
// budget currently is. Levels are ordered: Normal < Elevated < Low < Critical.
type Level int

const (
	Normal Level = iota
	Elevated
	Low
	Critical
)

func (l Level) String() string {
	switch l {
	case Normal:
		return "normal"
	case Elevated:
		return "elevated"
	case Low:
		return "low"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Parse converts a level name back to a Level.
func Parse(s string) (Level, error) {
	switch s {
	case "normal":
		return Normal, nil
	case "elevated":
		return Elevated, nil
	case "low":
		return Low, nil
	case "critical":
		return Critical, nil
	}
	return Normal, fmt.Errorf("unknown pressure level %q", s)
}

// Max returns the more severe of two levels.
func Max(a, b Level) Level {
	if a > b {
		return a
	}
	return b
}
