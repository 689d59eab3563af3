package pipeline

import (
	"time"
)

// Hours is the externally-supplied business-hours predicate. The
// out-of-hours auto-reply fires when it reports true for the current
// time.
type Hours interface {
	IsOutsideHours(now time.Time) bool
}

// Window is one daily attendance window in "15:04" local time.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// WeekSchedule implements Hours from a per-weekday window table. Days
// without a window count as closed all day.
type WeekSchedule struct {
	Windows map[time.Weekday]Window
}

// IsOutsideHours reports whether now falls outside the day's window.
func (s *WeekSchedule) IsOutsideHours(now time.Time) bool {
	if s == nil || len(s.Windows) == 0 {
		return false // no schedule configured: always attended
	}
	w, ok := s.Windows[now.Weekday()]
	if !ok {
		return true
	}
	start, err1 := time.Parse("15:04", w.Start)
	end, err2 := time.Parse("15:04", w.End)
	if err1 != nil || err2 != nil {
		return false
	}
	minutes := now.Hour()*60 + now.Minute()
	return minutes < start.Hour()*60+start.Minute() ||
		minutes >= end.Hour()*60+end.Minute()
}

// AlwaysOpen is an Hours that never reports out-of-hours.
type AlwaysOpen struct{}

func (AlwaysOpen) IsOutsideHours(time.Time) bool { return false }
