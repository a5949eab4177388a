package gamification

import (
	"sort"
	"time"
)

// weekStart returns the Monday of t's ISO week as observed in loc. The
// result is that civil date at 00:00 UTC so week keys compare and step by
// seven days regardless of daylight saving changes in loc.
func weekStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.AddDate(0, 0, -offset).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func weekSet(times []time.Time, loc *time.Location) map[time.Time]bool {
	weeks := make(map[time.Time]bool, len(times))
	for _, t := range times {
		weeks[weekStart(t, loc)] = true
	}
	return weeks
}

// CurrentStreak counts consecutive ISO weeks with attendance ending at ref's
// week. A week without attendance yet does not break the streak, so the
// count may end at the previous week instead.
func CurrentStreak(times []time.Time, ref time.Time, loc *time.Location) int {
	weeks := weekSet(times, loc)
	w := weekStart(ref, loc)
	if !weeks[w] {
		w = w.AddDate(0, 0, -7)
	}
	n := 0
	for weeks[w] {
		n++
		w = w.AddDate(0, 0, -7)
	}
	return n
}

// LongestStreak is the longest run of consecutive ISO weeks with attendance.
func LongestStreak(times []time.Time, loc *time.Location) int {
	weeks := weekSet(times, loc)
	sorted := make([]time.Time, 0, len(weeks))
	for w := range weeks {
		sorted = append(sorted, w)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	best, run := 0, 0
	for i, w := range sorted {
		if i > 0 && sorted[i-1].AddDate(0, 0, 7).Equal(w) {
			run++
		} else {
			run = 1
		}
		if run > best {
			best = run
		}
	}
	return best
}
