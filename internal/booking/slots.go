package booking

import "time"

// Clinic shifts. Slots start every slotInterval minutes; the last slot of a
// shift begins one interval before the shift closes.
const slotInterval = 15 // minutes

type shift struct {
	open  SlotTime
	close SlotTime
}

var shifts = []shift{
	{open: 9 * 60, close: 13 * 60},  // 09:00 - 13:00
	{open: 15 * 60, close: 19 * 60}, // 15:00 - 19:00
}

// Slots enumerates the bookable start times for a date, in order. For the
// current day, slots at or before `now` are excluded. Pure: same inputs, same
// output.
func Slots(date time.Time, now time.Time) []SlotTime {
	day := Day(date)

	var cutoff SlotTime = -1
	if day.Equal(Day(now)) {
		elapsed := now.UTC().Sub(day)
		cutoff = SlotTime(elapsed / time.Minute)
	} else if day.Before(Day(now)) {
		return nil
	}

	var out []SlotTime
	for _, sh := range shifts {
		for s := sh.open; s+slotInterval <= sh.close; s += slotInterval {
			if s <= cutoff {
				continue
			}
			out = append(out, s)
		}
	}
	return out
}

// ValidSlot reports whether slot is one of the enumerated start times for
// date and has not already passed.
func ValidSlot(date time.Time, slot SlotTime, now time.Time) bool {
	if !enumerated(slot) {
		return false
	}
	return StartAt(date, slot).After(now.UTC())
}

func enumerated(slot SlotTime) bool {
	for _, sh := range shifts {
		if slot >= sh.open && slot+slotInterval <= sh.close && (slot-sh.open)%slotInterval == 0 {
			return true
		}
	}
	return false
}
