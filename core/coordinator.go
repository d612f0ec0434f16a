package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/speechengine"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Coordinator is the single entry point to the speech engine.
//
// Engine calls are serialized and each one races against the maximum
// operation time. A call that does not settle in time, or that the watchdog
// finds stuck, resets the engine: the flags go back to their baseline, the
// engine instance is discarded and a fresh one is constructed, so a hung
// engine never leaves the conversation stuck. Results of abandoned calls are
// never applied to the state.
type Coordinator struct {
	factory           speechengine.Factory
	maxOperationTime  time.Duration
	heartbeatInterval time.Duration
	silenceThreshold  time.Duration
	onStateChanged    func(SpeechState)
	onError           func(error)
	emitEvent         eventEmitter

	baseContext context.Context
	cancel      context.CancelFunc
	watchdog    *watchdog
	operations  chan struct{}

	createMu  sync.Mutex
	adapterMu sync.Mutex
	adapter   speechengine.Adapter
	// released is closed once the previously discarded engine was disposed.
	released chan struct{}

	mu        sync.Mutex
	state     SpeechState
	lastErr   error
	epoch     uint64
	callbacks *CallbackPair
	session   *recognitionSession
	playback  *playback
	closed    bool

	closeOnce sync.Once

	timeouts     metric.Int64Counter
	recoveries   metric.Int64Counter
	engineErrors metric.Int64Counter
}

type playback struct {
	cancel context.CancelFunc
}

// NewCoordinator creates a coordinator and constructs its speech engine.
//
// A failed engine construction does not fail the coordinator; it is recorded
// as the last error and retried by the next call.
func NewCoordinator(ctx context.Context, opts ...CoordinatorOption) (*Coordinator, error) {
	c := &Coordinator{
		maxOperationTime:  DefaultMaxOperationTime,
		heartbeatInterval: DefaultHeartbeatInterval,
		silenceThreshold:  DefaultSilenceThreshold,
		emitEvent:         noopEventEmitter,
		operations:        make(chan struct{}, 1),
		state:             SpeechState{Language: speechengine.DefaultLanguage},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.factory == nil && c.adapter == nil {
		return nil, fmt.Errorf("%w: no speech engine configured", ErrInitialization)
	}

	c.timeouts = newInt64Counter("speech.operation.timeouts", "Engine calls abandoned after the maximum operation time")
	c.recoveries = newInt64Counter("speech.engine.resets", "Forced speech engine resets")
	c.engineErrors = newInt64Counter("speech.operation.errors", "Engine calls rejected by the speech engine")

	c.baseContext, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.watchdog = newWatchdog(c.maxOperationTime, c.heartbeatInterval, c.onOperationStuck)
	go c.watchdog.Run(c.baseContext)

	if c.adapter != nil {
		if err := c.applyLanguage(ctx, c.adapter, c.state.Language); err != nil {
			c.fail(newOperationError(opInitialize, ErrInitialization, err))
		}
	} else if _, err := c.ensureAdapter(ctx); err != nil {
		c.fail(err)
	}

	return c, nil
}

// StartListening starts a listening session delivering recognition results to
// onInterim and onFinal. An active session is stopped first; the new session
// is not started if stopping fails.
func (c *Coordinator) StartListening(ctx context.Context, onInterim, onFinal func(text string)) error {
	if err := c.acquire(ctx, opStartListening); err != nil {
		return err
	}
	defer c.releaseOperation()

	pair := CallbackPair{OnInterimResult: onInterim, OnFinalResult: onFinal}
	c.mu.Lock()
	c.callbacks = &pair
	c.mu.Unlock()

	return c.fail(c.startListening(ctx, opStartListening, pair))
}

// StopListening ends the listening session. Stopping when not listening is a
// no-op. The callbacks are forgotten, so a later ResumeListening fails.
func (c *Coordinator) StopListening(ctx context.Context) error {
	if err := c.acquire(ctx, opStopListening); err != nil {
		return err
	}
	defer c.releaseOperation()

	c.mu.Lock()
	c.callbacks = nil
	paused := c.state.IsPaused && !c.state.IsListening && c.session == nil
	c.mu.Unlock()

	if paused {
		c.updateState(func(s *SpeechState) { s.IsPaused = false })
		return nil
	}
	return c.fail(c.stopListening(ctx, opStopListening, false))
}

// PauseListening stops the engine from listening while keeping the callbacks
// for ResumeListening. Pausing twice is a no-op; pausing without an active
// session is an error.
func (c *Coordinator) PauseListening(ctx context.Context) error {
	if err := c.acquire(ctx, opPauseListening); err != nil {
		return err
	}
	defer c.releaseOperation()

	state := c.State()
	if state.IsPaused {
		return nil
	}
	if !state.IsListening {
		return c.fail(misuse(opPauseListening, "not listening"))
	}
	return c.fail(c.stopListening(ctx, opPauseListening, true))
}

// ResumeListening restarts listening with the callbacks of the last
// StartListening.
func (c *Coordinator) ResumeListening(ctx context.Context) error {
	if err := c.acquire(ctx, opResumeListening); err != nil {
		return err
	}
	defer c.releaseOperation()

	c.mu.Lock()
	pair := c.callbacks
	state := c.state
	c.mu.Unlock()

	if pair == nil {
		return c.fail(misuse(opResumeListening, "no listening session to resume, start listening first"))
	}
	if state.IsListening && !state.IsPaused {
		return nil
	}
	return c.fail(c.startListening(ctx, opResumeListening, *pair))
}

// Speak synthesizes and plays text. It does nothing while muted or for blank
// text. Speech already playing is stopped first.
func (c *Coordinator) Speak(ctx context.Context, text string) error {
	if c.State().IsMuted || strings.TrimSpace(text) == "" {
		return nil
	}

	if err := c.acquire(ctx, opSpeak); err != nil {
		return err
	}
	defer c.releaseOperation()

	state := c.State()
	if state.IsMuted {
		return nil
	}
	if state.IsSpeaking {
		if err := c.stopSpeaking(ctx); err != nil {
			return c.fail(err)
		}
	}

	playbackCtx, cancelPlayback := context.WithCancel(c.baseContext)
	handle := &playback{cancel: cancelPlayback}
	c.mu.Lock()
	c.playback = handle
	c.mu.Unlock()
	c.updateState(func(s *SpeechState) { s.IsSpeaking = true })

	var awaiter speechengine.PlaybackAwaiter
	err := c.invoke(ctx, opSpeak, func(ctx context.Context, adapter speechengine.Adapter) error {
		if err := adapter.Speak(ctx, text); err != nil {
			return err
		}
		awaiter, _ = adapter.(speechengine.PlaybackAwaiter)
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrInitialization) && !errors.Is(err, ErrTimeout) {
			// The engine may already have queued audio for the interrupted
			// text. A timed out engine is being replaced instead.
			if stopErr := c.stopSpeaking(context.WithoutCancel(ctx)); stopErr != nil {
				logger.Warn("could not stop interrupted speech", "error", stopErr)
			}
		}
		c.finishSpeaking(handle)
		return c.fail(err)
	}

	if awaiter == nil {
		c.finishSpeaking(handle)
		return nil
	}
	go c.awaitPlayback(playbackCtx, awaiter, handle)
	return nil
}

// StopSpeaking stops any ongoing speech. Stopping when silent is a no-op.
func (c *Coordinator) StopSpeaking(ctx context.Context) error {
	if err := c.acquire(ctx, opStopSpeaking); err != nil {
		return err
	}
	defer c.releaseOperation()

	return c.fail(c.stopSpeaking(ctx))
}

// SetMuted toggles muting. Muting while speaking stops the speech.
func (c *Coordinator) SetMuted(ctx context.Context, muted bool) error {
	c.updateState(func(s *SpeechState) { s.IsMuted = muted })
	if !muted || !c.State().IsSpeaking {
		return nil
	}

	if err := c.acquire(ctx, opSetMuted); err != nil {
		return err
	}
	defer c.releaseOperation()

	return c.fail(c.stopSpeaking(ctx))
}

// SetLanguage changes the recognition and synthesis language. An active
// listening session is stopped, the engine is reconfigured and listening is
// restarted with the same callbacks. If reconfiguring fails the coordinator
// is left not listening and the language is unchanged.
func (c *Coordinator) SetLanguage(ctx context.Context, lang speechengine.Language) error {
	if lang == "" {
		return c.fail(misuse(opSetLanguage, "language must not be empty"))
	}

	if err := c.acquire(ctx, opSetLanguage); err != nil {
		return err
	}
	defer c.releaseOperation()

	c.mu.Lock()
	state := c.state
	pair := c.callbacks
	c.mu.Unlock()

	if state.Language == lang {
		return nil
	}

	restart := state.IsListening && pair != nil
	if restart {
		if err := c.stopListening(ctx, opStopListening, false); err != nil {
			return c.fail(err)
		}
	}

	err := c.invoke(ctx, opSetLanguage, func(ctx context.Context, adapter speechengine.Adapter) error {
		return adapter.SetLanguage(ctx, lang)
	})
	if err != nil {
		c.updateState(func(s *SpeechState) { s.IsListening = false; s.IsPaused = false })
		return c.fail(err)
	}
	c.updateState(func(s *SpeechState) { s.Language = lang })

	if restart {
		return c.fail(c.startListening(ctx, opStartListening, *pair))
	}
	return nil
}

// State returns a snapshot of the current flags.
func (c *Coordinator) State() SpeechState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the most recent recorded failure, or nil.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Close stops the watchdog, ends any session and disposes the engine. Calls
// made after Close return ErrCoordinatorClosed.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		session := c.session
		handle := c.playback
		c.session, c.playback, c.callbacks = nil, nil, nil
		c.state = c.state.baseline()
		c.mu.Unlock()

		c.cancel()
		if session != nil {
			session.Close()
		}
		if handle != nil {
			handle.cancel()
		}

		c.adapterMu.Lock()
		adapter := c.adapter
		c.adapter = nil
		c.adapterMu.Unlock()
		if adapter != nil {
			disposeAdapter(adapter)
		}

		c.notifyStateChanged()
	})
}

func (c *Coordinator) startListening(ctx context.Context, op string, pair CallbackPair) error {
	c.mu.Lock()
	active := c.state.IsListening || c.session != nil
	c.mu.Unlock()
	if active {
		if err := c.stopListening(ctx, opStopListening, false); err != nil {
			return err
		}
	}

	session := newRecognitionSession(pair, c.silenceThreshold, c.emitEvent)
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	c.updateState(func(s *SpeechState) { s.IsListening = true; s.IsPaused = false })

	err := c.invoke(ctx, op, func(ctx context.Context, adapter speechengine.Adapter) error {
		return adapter.StartListening(ctx, session.OnInterim, session.OnFinal)
	})
	if err != nil {
		c.mu.Lock()
		if c.session == session {
			c.session = nil
		}
		c.mu.Unlock()
		session.Close()
		c.updateState(func(s *SpeechState) { s.IsListening = false })
		return err
	}
	return nil
}

func (c *Coordinator) stopListening(ctx context.Context, op string, pausing bool) error {
	c.mu.Lock()
	session := c.session
	listening := c.state.IsListening
	c.session = nil
	c.mu.Unlock()

	if session == nil && !listening {
		return nil
	}

	c.updateState(func(s *SpeechState) { s.IsListening = false; s.IsPaused = pausing })
	err := c.invoke(ctx, op, func(ctx context.Context, adapter speechengine.Adapter) error {
		return adapter.StopListening(ctx)
	})
	if session != nil {
		session.Close()
	}
	if err != nil {
		c.updateState(func(s *SpeechState) { s.IsPaused = false })
		if errors.Is(err, ErrEngine) {
			// The recognizer may still be running; only a fresh engine is
			// known to be quiet.
			c.resetEngine()
		}
		return err
	}
	return nil
}

func (c *Coordinator) stopSpeaking(ctx context.Context) error {
	c.mu.Lock()
	handle := c.playback
	speaking := c.state.IsSpeaking
	c.playback = nil
	c.mu.Unlock()

	if handle != nil {
		handle.cancel()
	}
	if handle == nil && !speaking {
		return nil
	}

	c.updateState(func(s *SpeechState) { s.IsSpeaking = false })
	err := c.invoke(ctx, opStopSpeaking, func(ctx context.Context, adapter speechengine.Adapter) error {
		return adapter.StopSpeaking(ctx)
	})
	if errors.Is(err, ErrEngine) {
		c.resetEngine()
	}
	return err
}

func (c *Coordinator) awaitPlayback(ctx context.Context, awaiter speechengine.PlaybackAwaiter, handle *playback) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("playback awaiter panicked", "panic", recovered)
		}
		c.finishSpeaking(handle)
	}()

	if err := awaiter.AwaitPlayback(ctx); err != nil && ctx.Err() == nil {
		logger.Warn("playback did not finish cleanly", "error", err)
	}
}

// finishSpeaking clears IsSpeaking if handle is still the current playback.
func (c *Coordinator) finishSpeaking(handle *playback) {
	handle.cancel()

	c.mu.Lock()
	current := c.playback == handle
	if current {
		c.playback = nil
	}
	c.mu.Unlock()

	if current {
		c.updateState(func(s *SpeechState) { s.IsSpeaking = false })
	}
}

// invoke runs one engine call under the watchdog and the operation timeout.
//
// Whichever of the timeout race and the watchdog clears the operation record
// first owns the recovery, so the engine is reset exactly once. A call that
// settles after the record was cleared is reported as timed out and its
// result is ignored.
func (c *Coordinator) invoke(ctx context.Context, op string, call func(context.Context, speechengine.Adapter) error) error {
	adapter, err := c.ensureAdapter(ctx)
	if err != nil {
		return err
	}

	epoch := c.currentEpoch()
	ctx, span := tracer.Start(ctx, "speech."+op)
	defer span.End()

	release := c.watchdog.Track(op)
	startedAt := time.Now()
	err = callWithTimeout(ctx, c.maxOperationTime, func(ctx context.Context) error {
		return call(ctx, adapter)
	})
	cleared := release()
	elapsed := time.Since(startedAt)

	if errors.Is(err, ErrTimeout) && cleared {
		err = c.recoverFromStuck(op, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation timed out")
		return err
	}
	if !cleared || c.currentEpoch() != epoch {
		c.mu.Lock()
		lastErr := c.lastErr
		c.mu.Unlock()
		if lastErr != nil && errors.Is(lastErr, ErrTimeout) {
			err = lastErr
		} else {
			err = newOperationError(op, ErrTimeout, fmt.Errorf("engine was reset after %v", elapsed.Round(time.Millisecond)))
		}
		span.SetStatus(codes.Error, "operation abandoned")
		return err
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.SetStatus(codes.Error, "operation cancelled")
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
		c.engineErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "engine rejected the operation")
		return newOperationError(op, ErrEngine, err)
	}
	return nil
}

// onOperationStuck runs on the watchdog goroutine. The engine is reset right
// away; consumers are notified from a separate goroutine so a slow callback
// never holds up the heartbeat.
func (c *Coordinator) onOperationStuck(record OperationRecord, elapsed time.Duration) {
	err := c.abandonStuckOperation(record.Name, elapsed)
	go c.reportTimeout(record.Name, elapsed, err)
}

func (c *Coordinator) recoverFromStuck(op string, elapsed time.Duration) error {
	err := c.abandonStuckOperation(op, elapsed)
	c.reportTimeout(op, elapsed, err)
	return err
}

// abandonStuckOperation records the timeout and resets the engine without
// calling out to consumers.
func (c *Coordinator) abandonStuckOperation(op string, elapsed time.Duration) error {
	c.timeouts.Add(c.baseContext, 1, metric.WithAttributes(attribute.String("operation", op)))
	err := newOperationError(op, ErrTimeout, fmt.Errorf("no response after %v, speech engine reset", elapsed.Round(time.Millisecond)))

	c.record(err)
	c.resetEngineState()
	return err
}

func (c *Coordinator) reportTimeout(op string, elapsed time.Duration, err error) {
	c.emitEvent(events.NewOperationTimedOut(op, elapsed))
	c.report(err)
}

// resetEngine returns the flags to their baseline, invalidates in-flight
// results and replaces the engine instance. The callback pair is kept so
// listening can be resumed.
func (c *Coordinator) resetEngine() {
	c.resetEngineState()
	c.notifyStateChanged()
}

func (c *Coordinator) resetEngineState() {
	c.mu.Lock()
	c.epoch++
	session := c.session
	handle := c.playback
	c.session, c.playback = nil, nil
	c.state = c.state.baseline()
	closed := c.closed
	c.mu.Unlock()

	if session != nil {
		session.Close()
	}
	if handle != nil {
		handle.cancel()
	}
	c.recoveries.Add(c.baseContext, 1)
	c.discardAdapter()

	if !closed {
		go c.reinitialize()
	}
}

func (c *Coordinator) reinitialize() {
	if _, err := c.ensureAdapter(c.baseContext); err != nil && !errors.Is(err, ErrCoordinatorClosed) {
		c.fail(err)
	}
}

func (c *Coordinator) currentAdapter() speechengine.Adapter {
	c.adapterMu.Lock()
	defer c.adapterMu.Unlock()
	return c.adapter
}

// ensureAdapter returns the current engine, constructing one if there is
// none.
func (c *Coordinator) ensureAdapter(ctx context.Context) (speechengine.Adapter, error) {
	if adapter := c.currentAdapter(); adapter != nil {
		return adapter, nil
	}

	c.createMu.Lock()
	defer c.createMu.Unlock()

	if c.isClosed() {
		return nil, ErrCoordinatorClosed
	}
	if adapter := c.currentAdapter(); adapter != nil {
		return adapter, nil
	}
	// The engines share the audio device, so the discarded one must be done
	// with it first.
	if err := c.awaitReleased(ctx); err != nil {
		return nil, newOperationError(opInitialize, ErrInitialization, err)
	}
	if c.factory == nil {
		return nil, newOperationError(opInitialize, ErrInitialization, errors.New("no adapter factory configured"))
	}

	var adapter speechengine.Adapter
	err := callWithTimeout(ctx, c.maxOperationTime, func(ctx context.Context) error {
		created, err := c.factory(ctx)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			go disposeAdapter(created)
			return ctx.Err()
		}
		adapter = created
		return nil
	})
	if err != nil {
		return nil, newOperationError(opInitialize, ErrInitialization, err)
	}

	if err := c.applyLanguage(ctx, adapter, c.State().Language); err != nil {
		go disposeAdapter(adapter)
		return nil, newOperationError(opInitialize, ErrInitialization, err)
	}

	c.adapterMu.Lock()
	c.adapter = adapter
	c.adapterMu.Unlock()
	return adapter, nil
}

func (c *Coordinator) applyLanguage(ctx context.Context, adapter speechengine.Adapter, lang speechengine.Language) error {
	if lang == "" {
		return nil
	}
	return callWithTimeout(ctx, c.maxOperationTime, func(ctx context.Context) error {
		return adapter.SetLanguage(ctx, lang)
	})
}

// discardAdapter drops the current engine and disposes it in the
// background. No replacement is constructed until the disposal finished or
// ran out of time.
func (c *Coordinator) discardAdapter() {
	released := make(chan struct{})

	c.adapterMu.Lock()
	adapter := c.adapter
	c.adapter = nil
	c.released = released
	c.adapterMu.Unlock()

	go func() {
		defer close(released)
		if adapter == nil {
			return
		}
		err := callWithTimeout(context.Background(), c.maxOperationTime, func(context.Context) error {
			disposeAdapter(adapter)
			return nil
		})
		if err != nil {
			logger.Warn("speech engine did not dispose in time", "error", err)
		}
	}()
}

func (c *Coordinator) awaitReleased(ctx context.Context) error {
	c.adapterMu.Lock()
	released := c.released
	c.adapterMu.Unlock()

	if released == nil {
		return nil
	}
	select {
	case <-released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func disposeAdapter(adapter speechengine.Adapter) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("speech engine dispose panicked", "panic", recovered)
		}
	}()
	adapter.Dispose()
}

func (c *Coordinator) acquire(ctx context.Context, op string) error {
	if c.isClosed() {
		return fmt.Errorf("%s: %w", op, ErrCoordinatorClosed)
	}

	select {
	case c.operations <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.baseContext.Done():
		return fmt.Errorf("%s: %w", op, ErrCoordinatorClosed)
	}

	if c.isClosed() {
		<-c.operations
		return fmt.Errorf("%s: %w", op, ErrCoordinatorClosed)
	}
	return nil
}

func (c *Coordinator) releaseOperation() { <-c.operations }

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Coordinator) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *Coordinator) updateState(mutate func(*SpeechState)) {
	c.mu.Lock()
	before := c.state
	mutate(&c.state)
	changed := before != c.state
	c.mu.Unlock()

	if changed {
		c.notifyStateChanged()
	}
}

func (c *Coordinator) notifyStateChanged() {
	state := c.State()
	c.emitEvent(events.NewSpeechStateChanged(state.IsListening, state.IsSpeaking, state.IsPaused, state.IsMuted, state.Language.String()))
	if c.onStateChanged != nil {
		safeCall("state changed", func() { c.onStateChanged(state) })
	}
}

// fail records err as the last error and reports it. Cancellations are passed
// through without being recorded. The same error is only reported once.
func (c *Coordinator) fail(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if c.record(err) {
		c.report(err)
	}
	return err
}

// record stores err as the last error and reports whether it was new.
func (c *Coordinator) record(err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastErr == err {
		return false
	}
	c.lastErr = err
	c.state.LastError = err.Error()
	return true
}

func (c *Coordinator) report(err error) {
	op := ""
	var opErr *OperationError
	if errors.As(err, &opErr) {
		op = opErr.Op
	}

	switch {
	case errors.Is(err, ErrTimeout):
		logger.Warn("speech operation timed out", "operation", op, "error", err)
	case errors.Is(err, ErrMisuse):
		logger.Warn("invalid speech operation", "operation", op, "error", err)
	default:
		logger.Error("speech operation failed", "operation", op, "error", err)
		c.emitEvent(events.NewOperationFailed(op, err.Error(), err))
	}

	c.notifyStateChanged()
	if c.onError != nil {
		safeCall("error", func() { c.onError(err) })
	}
}

func newInt64Counter(name, description string) metric.Int64Counter {
	counter, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		logger.Warn("could not create counter", "name", name, "error", err)
		return noop.Int64Counter{}
	}
	return counter
}
