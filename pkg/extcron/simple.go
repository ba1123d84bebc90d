package extcron

import "time"

// SimpleSchedule is a non recurring schedule that activates at most once.
type SimpleSchedule struct {
	Date time.Time
}

// At returns a schedule that activates once at the given time. The zero
// time yields a schedule that never activates, which backs the
// "@manually" descriptor.
func At(date time.Time) SimpleSchedule {
	return SimpleSchedule{Date: date}
}

// Next returns the stored date while it is still in the future and the
// zero time afterwards, so the cron runner drops the entry once it fired.
func (s SimpleSchedule) Next(t time.Time) time.Time {
	if s.Date.After(t) {
		return s.Date
	}
	return time.Time{}
}
