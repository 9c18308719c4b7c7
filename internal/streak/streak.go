// Package streak derives consecutive-day progress inside a single week.
package streak

import "slices"

type Status struct {
	HasMissedDay     bool `json:"has_missed_day"`
	CurrentStreakDay int  `json:"current_streak_day"`
	CanProceedToday  bool `json:"can_proceed_today"`
}

// Evaluate checks days 1..currentDay-1 against completed. Any gap resets the
// streak day to 1 for the rest of the week, even after a longer earlier run.
func Evaluate(currentDay int, completed []int) Status {
	st := Status{
		CurrentStreakDay: 1,
		CanProceedToday:  !slices.Contains(completed, currentDay),
	}
	if currentDay <= 1 {
		return st
	}
	for day := 1; day < currentDay; day++ {
		if !slices.Contains(completed, day) {
			st.HasMissedDay = true
			return st
		}
	}
	st.CurrentStreakDay = currentDay
	return st
}
