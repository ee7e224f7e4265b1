package utils

import "time"

func Ptr[T any](v T) *T {
	return &v
}

// TimePtrAfter reports whether t is set and later than now
func TimePtrAfter(t *time.Time, now time.Time) bool {
	return t != nil && t.After(now)
}
