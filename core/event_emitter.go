package orchestration

import (
	"github.com/koscakluka/ema-voice/core/events"
)

type eventEmitter func(events.Event)

func noopEventEmitter(events.Event) {}

// newCallbackEventEmitter fans events out to the registered callbacks. A
// panicking callback is contained and does not stop the others.
func newCallbackEventEmitter(callbacks ...func(events.Event)) eventEmitter {
	active := make([]func(events.Event), 0, len(callbacks))
	for _, callback := range callbacks {
		if callback != nil {
			active = append(active, callback)
		}
	}
	if len(active) == 0 {
		return noopEventEmitter
	}

	return func(event events.Event) {
		for _, callback := range active {
			safeCall(string(event.Kind()), func() { callback(event) })
		}
	}
}
