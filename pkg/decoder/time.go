package decoder

import "time"

// PgEpoch is the reference instant pgoutput timestamps are measured from.
var PgEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// TimeFromPgMicros converts a raw pgoutput timestamp (microseconds since
// PgEpoch) to a time.Time.
func TimeFromPgMicros(micros int64) time.Time {
	return PgEpoch.Add(time.Duration(micros) * time.Microsecond)
}
