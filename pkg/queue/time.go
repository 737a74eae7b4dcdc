package queue

import "time"

// Timestamps are stored as milliseconds since epoch, matching the spec's
// millisecond-resolution requirement and keeping ordering comparisons in
// SQL indices a plain integer comparison.

func timeToMs(t time.Time) int64 {
	return t.UnixMilli()
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
