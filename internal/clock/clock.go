package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock supplies the current time. Ledger timestamps are UTC with
// microsecond precision so they survive a round trip through postgres.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return Normalize(time.Now())
}

// Normalize converts t to UTC truncated to microseconds.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

var Module = fx.Module("clock",
	fx.Provide(func() Clock { return SystemClock{} }),
)
