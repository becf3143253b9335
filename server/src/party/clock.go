package party

import "time"

// All scheduling and debounce logic runs on monotonic seconds since process
// start. Wall-clock timestamps appear only in chat payloads.
var processStart = time.Now()

func monotonicNow() float64 {
	return time.Since(processStart).Seconds()
}

// taskHandle cancels a scheduled timer task. Cancellation is best effort:
// correctness relies on the epoch check the task performs under the engine
// lock, not on Stop winning the race.
type taskHandle interface {
	Stop() bool
}

type scheduleFunc func(d time.Duration, f func()) taskHandle

func scheduleAfter(d time.Duration, f func()) taskHandle {
	return time.AfterFunc(d, f)
}
