package orchestration

import (
	"sync"
	"time"
)

// SilenceDetector turns a trailing run of interim results into a final result
// when the engine goes quiet without emitting one itself.
//
// Every interim result starts a new window; if no further interim or final
// arrives within the threshold, the last interim text is emitted as a
// synthesized final and the window ends. A genuine final cancels the window
// and is forwarded verbatim, unless the window it belongs to was already
// finalized by silence.
//
// Callbacks run while the detector lock is held, in the order the results
// were observed, and must not block.
type SilenceDetector struct {
	threshold time.Duration
	onInterim func(text string)
	onFinal   func(text string, synthesized bool)

	mu            sync.Mutex
	timer         *time.Timer
	window        uint64
	lastInterim   string
	open          bool
	autoFinalized bool
	stopped       bool
}

// NewSilenceDetector returns a detector that forwards interim results to
// onInterim and finals, genuine or synthesized, to onFinal. A non-positive
// threshold disables synthesis.
func NewSilenceDetector(threshold time.Duration, onInterim func(string), onFinal func(string, bool)) *SilenceDetector {
	if onInterim == nil {
		onInterim = func(string) {}
	}
	if onFinal == nil {
		onFinal = func(string, bool) {}
	}
	return &SilenceDetector{
		threshold: threshold,
		onInterim: onInterim,
		onFinal:   onFinal,
	}
}

// Interim records text and restarts the silence window.
func (d *SilenceDetector) Interim(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.stopTimerLocked()
	d.window++
	d.lastInterim = text
	d.open = true
	d.autoFinalized = false
	if d.threshold > 0 {
		window := d.window
		d.timer = time.AfterFunc(d.threshold, func() { d.expire(window) })
	}

	d.onInterim(text)
}

// Final forwards a final result from the engine and closes the window.
func (d *SilenceDetector) Final(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.stopTimerLocked()
	d.window++
	wasAutoFinalized := d.autoFinalized && !d.open
	d.open = false
	d.autoFinalized = false
	d.lastInterim = ""

	if wasAutoFinalized {
		logger.Debug("dropping engine final for an utterance already finalized by silence", "transcript", text)
		return
	}
	d.onFinal(text, false)
}

// Stop cancels the pending window. Results observed afterwards are ignored.
func (d *SilenceDetector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.stopTimerLocked()
}

func (d *SilenceDetector) expire(window uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || !d.open || window != d.window {
		return
	}

	text := d.lastInterim
	d.open = false
	d.autoFinalized = true
	d.lastInterim = ""
	d.timer = nil

	if text == "" {
		return
	}
	d.onFinal(text, true)
}

func (d *SilenceDetector) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
