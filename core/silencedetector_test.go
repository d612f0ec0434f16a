package orchestration

import (
	"slices"
	"sync"
	"testing"
	"time"
)

type detectorRecorder struct {
	mu       sync.Mutex
	interims []string
	finals   []string
	synth    []bool
}

func (r *detectorRecorder) onInterim(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interims = append(r.interims, text)
}

func (r *detectorRecorder) onFinal(text string, synthesized bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finals = append(r.finals, text)
	r.synth = append(r.synth, synthesized)
}

func (r *detectorRecorder) snapshot() ([]string, []string, []bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.interims), slices.Clone(r.finals), slices.Clone(r.synth)
}

func TestSilenceDetectorSynthesizesFinalAfterSilence(t *testing.T) {
	recorder := &detectorRecorder{}
	detector := NewSilenceDetector(DefaultSilenceThreshold, recorder.onInterim, recorder.onFinal)
	defer detector.Stop()

	detector.Interim("H")
	detector.Interim("He")
	detector.Interim("Hel")

	lastInterim := time.Now()
	waitForCondition(t, 2*time.Second, "synthesized final", func() bool {
		_, finals, _ := recorder.snapshot()
		return len(finals) == 1
	})
	if elapsed := time.Since(lastInterim); elapsed < DefaultSilenceThreshold {
		t.Fatalf("expected final only after %v of silence, got it after %v", DefaultSilenceThreshold, elapsed)
	}

	interims, finals, synth := recorder.snapshot()
	if !slices.Equal(interims, []string{"H", "He", "Hel"}) {
		t.Fatalf("expected interims in order, got %v", interims)
	}
	if finals[0] != "Hel" || !synth[0] {
		t.Fatalf("expected synthesized final %q, got %q (synthesized=%t)", "Hel", finals[0], synth[0])
	}
}

func TestSilenceDetectorEngineFinalCancelsTimer(t *testing.T) {
	recorder := &detectorRecorder{}
	detector := NewSilenceDetector(30*time.Millisecond, recorder.onInterim, recorder.onFinal)
	defer detector.Stop()

	detector.Interim("hola")
	detector.Final("Hola.")

	time.Sleep(100 * time.Millisecond)

	_, finals, synth := recorder.snapshot()
	if !slices.Equal(finals, []string{"Hola."}) {
		t.Fatalf("expected only the engine final, got %v", finals)
	}
	if synth[0] {
		t.Fatalf("expected engine final not to be synthesized")
	}
}

func TestSilenceDetectorSuppressesLateEngineFinal(t *testing.T) {
	recorder := &detectorRecorder{}
	detector := NewSilenceDetector(20*time.Millisecond, recorder.onInterim, recorder.onFinal)
	defer detector.Stop()

	detector.Interim("buenos dias")
	waitForCondition(t, time.Second, "synthesized final", func() bool {
		_, finals, _ := recorder.snapshot()
		return len(finals) == 1
	})

	detector.Final("Buenos días.")

	_, finals, _ := recorder.snapshot()
	if len(finals) != 1 {
		t.Fatalf("expected late engine final to be dropped, got %v", finals)
	}

	detector.Interim("adios")
	detector.Final("Adiós.")
	_, finals, _ = recorder.snapshot()
	if !slices.Equal(finals, []string{"buenos dias", "Adiós."}) {
		t.Fatalf("expected a new window to finalize normally, got %v", finals)
	}
}

func TestSilenceDetectorNewInterimRestartsWindow(t *testing.T) {
	recorder := &detectorRecorder{}
	detector := NewSilenceDetector(60*time.Millisecond, recorder.onInterim, recorder.onFinal)
	defer detector.Stop()

	for _, text := range []string{"I", "I am", "I am here"} {
		detector.Interim(text)
		time.Sleep(20 * time.Millisecond)
	}

	if _, finals, _ := recorder.snapshot(); len(finals) != 0 {
		t.Fatalf("expected no final while interims keep arriving, got %v", finals)
	}

	waitForCondition(t, time.Second, "synthesized final", func() bool {
		_, finals, _ := recorder.snapshot()
		return len(finals) == 1
	})
	if _, finals, _ := recorder.snapshot(); finals[0] != "I am here" {
		t.Fatalf("expected last interim to be finalized, got %q", finals[0])
	}
}

func TestSilenceDetectorStopCancelsWindow(t *testing.T) {
	recorder := &detectorRecorder{}
	detector := NewSilenceDetector(20*time.Millisecond, recorder.onInterim, recorder.onFinal)

	detector.Interim("stop me")
	detector.Stop()
	detector.Interim("ignored")
	time.Sleep(60 * time.Millisecond)

	interims, finals, _ := recorder.snapshot()
	if len(finals) != 0 {
		t.Fatalf("expected no final after stop, got %v", finals)
	}
	if !slices.Equal(interims, []string{"stop me"}) {
		t.Fatalf("expected interims after stop to be ignored, got %v", interims)
	}
}

func TestSilenceDetectorSkipsEmptyInterim(t *testing.T) {
	recorder := &detectorRecorder{}
	detector := NewSilenceDetector(10*time.Millisecond, recorder.onInterim, recorder.onFinal)
	defer detector.Stop()

	detector.Interim("")
	time.Sleep(50 * time.Millisecond)

	if _, finals, _ := recorder.snapshot(); len(finals) != 0 {
		t.Fatalf("expected empty interim not to be finalized, got %v", finals)
	}
}
