package checkout

import (
	"time"

	"github.com/benbjohnson/clock"
)

// timers holds every timer of one controller. Stopped timers are set to
// nil so the event loop stops selecting on their channels.
type timers struct {
	clock     clock.Clock
	countdown *clock.Ticker
	poll      *clock.Ticker
	copied    *clock.Timer
}

func (t *timers) startSession(countdown, poll time.Duration) {
	t.stopSession()
	t.countdown = t.clock.Ticker(countdown)
	t.poll = t.clock.Ticker(poll)
}

func (t *timers) stopSession() {
	if t.countdown != nil {
		t.countdown.Stop()
		t.countdown = nil
	}
	if t.poll != nil {
		t.poll.Stop()
		t.poll = nil
	}
}

func (t *timers) startCopied(d time.Duration) {
	t.stopCopied()
	t.copied = t.clock.Timer(d)
}

func (t *timers) stopCopied() {
	if t.copied != nil {
		t.copied.Stop()
		t.copied = nil
	}
}

func (t *timers) release() {
	t.stopSession()
	t.stopCopied()
}

func (t *timers) countdownC() <-chan time.Time {
	if t.countdown == nil {
		return nil
	}
	return t.countdown.C
}

func (t *timers) pollC() <-chan time.Time {
	if t.poll == nil {
		return nil
	}
	return t.poll.C
}

func (t *timers) copiedC() <-chan time.Time {
	if t.copied == nil {
		return nil
	}
	return t.copied.C
}
