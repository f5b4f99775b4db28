package memory

import (
	"fmt"
	"time"
)

// AgeBucket is the coarse granularity of a relative-age label.
type AgeBucket int

const (
	AgeJustNow AgeBucket = iota
	AgeMinutes
	AgeHours
	AgeDays
)

// Age is how long ago a turn happened, rounded down within its bucket.
type Age struct {
	Bucket AgeBucket
	Count  int // whole minutes, hours or days; zero for AgeJustNow
}

// RelativeAge buckets now-ts: under a minute is "just now", then whole
// minutes below an hour, whole hours below a day, whole days beyond.
// Timestamps in the future count as "just now".
func RelativeAge(now, ts time.Time) Age {
	d := now.Sub(ts)
	switch {
	case d < time.Minute:
		return Age{Bucket: AgeJustNow}
	case d < time.Hour:
		return Age{Bucket: AgeMinutes, Count: int(d / time.Minute)}
	case d < 24*time.Hour:
		return Age{Bucket: AgeHours, Count: int(d / time.Hour)}
	default:
		return Age{Bucket: AgeDays, Count: int(d / (24 * time.Hour))}
	}
}

// String renders the label shown to the model in front of user turns.
func (a Age) String() string {
	switch a.Bucket {
	case AgeMinutes:
		return fmt.Sprintf("%d min ago", a.Count)
	case AgeHours:
		return fmt.Sprintf("%d h ago", a.Count)
	case AgeDays:
		return fmt.Sprintf("%d d ago", a.Count)
	default:
		return "just now"
	}
}
