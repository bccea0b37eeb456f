// Package timepolicy holds the wall-clock rules used to pick check-in and
// expiry instants.
package timepolicy

import "time"

const checkinHour = 7

// EarliestSevenAM returns 07:00 on t's calendar day when t is before 07:00,
// otherwise 07:00 on the following day. The result is in t's location.
func EarliestSevenAM(t time.Time) time.Time {
	sevenAM := atSevenAM(t)
	if t.Before(sevenAM) {
		return sevenAM
	}
	return atSevenAM(t.AddDate(0, 0, 1))
}

// TomorrowSevenAM returns 07:00 on the calendar day after t's, in t's location.
func TomorrowSevenAM(t time.Time) time.Time {
	return atSevenAM(t.AddDate(0, 0, 1))
}

// AddDays moves t by n calendar days, keeping its wall-clock time across DST
// changes.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// Later returns the later of a and b.
func Later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// Earlier returns the earlier of a and b.
func Earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func atSevenAM(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, checkinHour, 0, 0, 0, t.Location())
}
