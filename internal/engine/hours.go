package engine

import "time"

// ReferenceZone is the fixed UTC+5:30 zone the working-hours window is read in.
var ReferenceZone = time.FixedZone("UTC+05:30", 5*60*60+30*60)

// WorkingHours is a [Start, End) window of local hours. Start > End wraps
// past midnight; Start == End is always open.
type WorkingHours struct {
	Start    int
	End      int
	Location *time.Location
}

func DefaultWorkingHours() WorkingHours {
	return WorkingHours{Start: 9, End: 21, Location: ReferenceZone}
}

func (w WorkingHours) Contains(t time.Time) bool {
	if w.Location != nil {
		t = t.In(w.Location)
	}
	h := t.Hour()

	switch {
	case w.Start == w.End:
		return true
	case w.Start < w.End:
		return h >= w.Start && h < w.End
	default:
		return h >= w.Start || h < w.End
	}
}
