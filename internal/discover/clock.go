package discover

import (
	"time"

	"github.com/beevik/ntp"
)

const (
	defaultNTPPool      = "pool.ntp.org"
	defaultNTPThreshold = 500 * time.Millisecond
)

// ClockStatus is the outcome of a local clock-skew check. A skewed clock
// breaks TLS and git over HTTPS in confusing ways, so doctor surfaces it
// before any deployment is attempted.
type ClockStatus struct {
	Offset    time.Duration
	Healthy   bool
	Error     string
	CheckedAt time.Time
}

// CheckClock queries the NTP pool once and compares the offset against a
// 500ms threshold. pool may be empty for the default.
func CheckClock(pool string) ClockStatus {
	if pool == "" {
		pool = defaultNTPPool
	}

	resp, err := ntp.Query(pool)
	now := time.Now()
	if err != nil {
		return ClockStatus{Error: err.Error(), CheckedAt: now}
	}

	offset := resp.ClockOffset
	if offset < 0 {
		offset = -offset
	}
	return ClockStatus{
		Offset:    resp.ClockOffset,
		Healthy:   offset < defaultNTPThreshold,
		CheckedAt: now,
	}
}
