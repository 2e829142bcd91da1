package agentsession

import "time"

// hardTimeout arms a one-shot timer that calls onExpire if it isn't
// cancelled first, implementing the hard-timeout step ("schedule a hard
// timeout that terminates the session if still running when reached").
type hardTimeout struct {
	timer *time.Timer
}

func armHardTimeout(d time.Duration, onExpire func()) *hardTimeout {
	return &hardTimeout{timer: time.AfterFunc(d, onExpire)}
}

// cancel stops the timer; safe to call multiple times and after it has
// already fired.
func (h *hardTimeout) cancel() {
	if h == nil || h.timer == nil {
		return
	}
	h.timer.Stop()
}
