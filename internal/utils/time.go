package utils

import (
	"time"
)

const DateLayout = "2006-01-02"

// BusinessDate formats t as a calendar day in loc. A nil loc means UTC.
func BusinessDate(t time.Time, loc *time.Location, layout string) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(layout)
}
