package service

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/aidetect/detect/artifact"
	"github.com/ZanzyTHEbar/aidetect/detect/artifact/artifacttest"
	"github.com/ZanzyTHEbar/aidetect/detect/classifier"
	"github.com/ZanzyTHEbar/aidetect/detect/config"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startDetector(t *testing.T, opts Options) *Detector {
	t.Helper()
	d := New(opts, zerolog.Nop())
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { d.Close() })
	return d
}

// fakeBackend returns fixed logits and can fail, panic or block on demand.
type fakeBackend struct {
	concurrent bool
	logits     []float64
	failNext   atomic.Bool
	panicNext  atomic.Bool
	block      chan struct{}
	inflight   atomic.Int32
	maxSeen    atomic.Int32
	calls      atomic.Int32
}

func (f *fakeBackend) Name() string { return "fake" }
func (f *fakeBackend) Concurrent() bool { return f.concurrent }
func (f *fakeBackend) Stats() classifier.PoolStats { return classifier.PoolStats{} }
func (f *fakeBackend) Close() error { return nil }

func (f *fakeBackend) Forward(ids, _ [][]int64) ([][]float64, error) {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.block != nil {
		<-f.block
	}
	if f.failNext.CompareAndSwap(true, false) {
		return nil, errors.New("device lost")
	}
	if f.panicNext.CompareAndSwap(true, false) {
		panic("index out of range")
	}
	out := make([][]float64, len(ids))
	for i := range out {
		out[i] = append([]float64(nil), f.logits...)
	}
	return out, nil
}

func withFake(opts Options, f *fakeBackend) Options {
	opts.OpenBackend = func(*artifact.Artifact, classifier.Options) (classifier.Backend, error) { return f, nil }
	return opts
}

func TestPredictBeforeStart(t *testing.T) {
	d := New(DefaultOptions(artifacttest.Random(t, artifacttest.Options{})), zerolog.Nop())
	_, err := d.Predict(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrModelNotLoaded)
	_, err = d.PredictBatch(context.Background(), []string{"hello"})
	assert.ErrorIs(t, err, ErrModelNotLoaded)

	h := d.Health()
	assert.Equal(t, "unloaded", h.State)
	assert.False(t, h.Ready())
	assert.False(t, h.ModelLoaded)
}

func TestStartTwice(t *testing.T) {
	d := startDetector(t, DefaultOptions(artifacttest.Random(t, artifacttest.Options{})))
	assert.ErrorIs(t, d.Start(context.Background()), ErrAlreadyStarted)
	assert.Equal(t, classifier.StateReady, d.State())
}

func TestStartFailsOnBrokenArtifact(t *testing.T) {
	d := New(DefaultOptions(t.TempDir()), zerolog.Nop())
	err := d.Start(context.Background())
	require.ErrorIs(t, err, artifact.ErrArtifactLoad)
	assert.Equal(t, classifier.StateFailed, d.State())

	_, err = d.Predict(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrModelNotLoaded)

	h := d.Health()
	assert.Equal(t, "failed", h.State)
	assert.ErrorIs(t, h.Err, artifact.ErrArtifactLoad)
	assert.ErrorIs(t, d.Start(context.Background()), ErrAlreadyStarted)
}

func TestStartFailsOnUnregisteredOp(t *testing.T) {
	ops := append(append([]string(nil), artifacttest.DefaultOps...), "Cumsum")
	d := New(DefaultOptions(artifacttest.Random(t, artifacttest.Options{Ops: ops})), zerolog.Nop())
	err := d.Start(context.Background())
	assert.ErrorIs(t, err, classifier.ErrUnregisteredOperation)
	assert.Equal(t, classifier.StateFailed, d.State())
}

func TestStartRejectsMaxLengthBeyondPositions(t *testing.T) {
	opts := DefaultOptions(artifacttest.Random(t, artifacttest.Options{MaxLength: 32}))
	opts.MaxLength = 64
	d := New(opts, zerolog.Nop())
	assert.Error(t, d.Start(context.Background()))
}

func TestPredictValidation(t *testing.T) {
	d := startDetector(t, DefaultOptions(artifacttest.Random(t, artifacttest.Options{})))
	ctx := context.Background()

	tests := []struct {
		name string
		text string
		ok   bool
	}{
		{"empty", "", false},
		{"whitespace", " \t\n ", false},
		{"invalid utf8", "ab\xffcd", false},
		{"one char", "a", true},
		{"limit in runes", strings.Repeat("é", 1000), true},
		{"over limit", strings.Repeat("é", 1001), false},
		{"trimmed to limit", "  " + strings.Repeat("a", 1000) + "\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Predict(ctx, tt.text)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidInput)
			var ie *InputError
			require.True(t, errors.As(err, &ie))
			assert.NotEmpty(t, ie.Reason)
		})
	}
}

func TestPredictDeterministicAndNormalized(t *testing.T) {
	d := startDetector(t, DefaultOptions(artifacttest.Random(t, artifacttest.Options{})))
	ctx := context.Background()
	texts := []string{
		"a",
		"the quick brown fox jumps",
		"ZZZ unknown ☃ characters ∑",
		strings.Repeat("model text ", 90),
	}
	for _, text := range texts {
		first, err := d.Predict(ctx, text)
		require.NoError(t, err)
		for range 3 {
			again, err := d.Predict(ctx, text)
			require.NoError(t, err)
			assert.InDelta(t, first.AIProb, again.AIProb, 1e-6)
			assert.InDelta(t, first.HumanProb, again.HumanProb, 1e-6)
		}
		assert.GreaterOrEqual(t, first.AIProb, 0.0)
		assert.LessOrEqual(t, first.AIProb, 1.0)
		assert.GreaterOrEqual(t, first.HumanProb, 0.0)
		assert.LessOrEqual(t, first.HumanProb, 1.0)
		assert.Less(t, math.Abs(first.AIProb+first.HumanProb-1), 1e-3)
		assert.InDelta(t, roundTo(first.AIProb, 4), first.AIProb, 1e-12, "rounded to 4 digits")
	}
}

func TestRoundTo(t *testing.T) {
	assert.Equal(t, 1.0, roundTo(0.5, 0))
	assert.Equal(t, -1.0, roundTo(-0.5, 0))
	assert.Equal(t, 0.3, roundTo(0.25, 1))
	assert.Equal(t, 0.38, roundTo(0.375, 2))
	assert.Equal(t, 0.1235, roundTo(0.12346, 4))
	assert.Equal(t, 1.0, roundTo(0.99999, 4))
}

func TestLabelMappingRegression(t *testing.T) {
	tests := []struct {
		name    string
		lexicon artifacttest.LexiconOptions
		aiIndex *int
		source  string
	}{
		{"default order", artifacttest.LexiconOptions{AIIndex: 1}, nil, classifier.LabelSourceDefault},
		{"flipped via id2label", artifacttest.LexiconOptions{AIIndex: 0, ID2Label: true}, nil, classifier.LabelSourceID2Label},
		{"flipped via config", artifacttest.LexiconOptions{AIIndex: 0}, PinAIIndex(0), classifier.LabelSourceConfig},
		{"calibrated", artifacttest.LexiconOptions{AIIndex: 0, ID2Label: true, Calibration: true}, nil, classifier.LabelSourceID2Label},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions(artifacttest.Lexicon(t, tt.lexicon))
			opts.AIIndex = tt.aiIndex
			d := startDetector(t, opts)
			ctx := context.Background()

			h := d.Health()
			assert.Equal(t, tt.source, h.LabelSource)
			assert.Equal(t, tt.lexicon.AIIndex, h.AIIndex)

			formal := []string{
				artifacttest.FormalText,
				"Moreover, the comprehensive approach will facilitate results.",
				"Consequently we utilize additionally paramount methods",
			}
			casual := []string{
				artifacttest.CasualText,
				"omg haha dude",
				"yeah i wanna go lol",
			}
			for _, text := range formal {
				p, err := d.Predict(ctx, text)
				require.NoError(t, err)
				assert.Greater(t, p.AIProb, 0.5, text)
			}
			for _, text := range casual {
				p, err := d.Predict(ctx, text)
				require.NoError(t, err)
				assert.Less(t, p.AIProb, 0.5, text)
			}
		})
	}
}

func TestCalibrationCatchesWrongLabelOrder(t *testing.T) {
	t.Run("wrong override", func(t *testing.T) {
		opts := DefaultOptions(artifacttest.Lexicon(t, artifacttest.LexiconOptions{AIIndex: 1, ID2Label: true, Calibration: true}))
		opts.AIIndex = PinAIIndex(0)
		d := New(opts, zerolog.Nop())
		err := d.Start(context.Background())
		require.ErrorIs(t, err, ErrLabelOrderMismatch)
		assert.Contains(t, err.Error(), "swapping to ai index 1 would pass")

		h := d.Health()
		assert.Equal(t, "failed", h.State)
		require.NotNil(t, h.Calibration)
		assert.Equal(t, 0.0, h.Calibration.Accuracy)
		assert.Equal(t, 1.0, h.Calibration.FlippedAccuracy)
	})

	t.Run("unlabeled flipped export", func(t *testing.T) {
		d := New(DefaultOptions(artifacttest.Lexicon(t, artifacttest.LexiconOptions{AIIndex: 0, Calibration: true})), zerolog.Nop())
		assert.ErrorIs(t, d.Start(context.Background()), ErrLabelOrderMismatch)
	})

	t.Run("skipped", func(t *testing.T) {
		opts := DefaultOptions(artifacttest.Lexicon(t, artifacttest.LexiconOptions{AIIndex: 0, Calibration: true}))
		opts.SkipCalibration = true
		d := startDetector(t, opts)
		assert.Nil(t, d.Health().Calibration)
	})

	t.Run("zero threshold means default", func(t *testing.T) {
		opts := DefaultOptions(artifacttest.Lexicon(t, artifacttest.LexiconOptions{AIIndex: 0, Calibration: true}))
		opts.MinCalibrationAccuracy = 0
		assert.ErrorIs(t, New(opts, zerolog.Nop()).Start(context.Background()), ErrLabelOrderMismatch)
	})
}

func TestZeroOptionsUseDefaults(t *testing.T) {
	d := startDetector(t, Options{ArtifactDir: artifacttest.Lexicon(t, artifacttest.LexiconOptions{AIIndex: 1})})

	h := d.Health()
	assert.Equal(t, classifier.LabelSourceDefault, h.LabelSource)
	assert.Equal(t, 1, h.AIIndex)

	p, err := d.Predict(context.Background(), artifacttest.FormalText)
	require.NoError(t, err)
	assert.Greater(t, p.AIProb, 0.5)
	assert.Less(t, p.HumanProb, 0.5)
	assert.Less(t, math.Abs(p.AIProb+p.HumanProb-1), 1e-3)
	assert.Equal(t, roundTo(p.AIProb, 4), p.AIProb)

	t.Run("calibration still enforced", func(t *testing.T) {
		d := New(Options{ArtifactDir: artifacttest.Lexicon(t, artifacttest.LexiconOptions{AIIndex: 0, Calibration: true})}, zerolog.Nop())
		assert.ErrorIs(t, d.Start(context.Background()), ErrLabelOrderMismatch)
	})
}

func TestStartRejectsLowPrecision(t *testing.T) {
	opts := DefaultOptions(artifacttest.Random(t, artifacttest.Options{}))
	opts.Precision = MinPrecision - 1
	d := New(opts, zerolog.Nop())
	err := d.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "precision")
	assert.Equal(t, classifier.StateFailed, d.State())
}

func TestPredictBatchMatchesPredict(t *testing.T) {
	opts := DefaultOptions(artifacttest.Random(t, artifacttest.Options{}))
	opts.BatchSize = 2
	d := startDetector(t, opts)
	ctx := context.Background()

	texts := []string{"the fox", "a quick brown model", "human writer", "test text", "jumps"}
	batch, err := d.PredictBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))
	for i, text := range texts {
		single, err := d.Predict(ctx, text)
		require.NoError(t, err)
		assert.InDelta(t, single.AIProb, batch[i].AIProb, 1e-9, text)
	}

	_, err = d.PredictBatch(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = d.PredictBatch(ctx, []string{"ok", "  "})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "texts[1]")
}

func TestInferenceErrorsAreRecovered(t *testing.T) {
	f := &fakeBackend{logits: []float64{0, 1}}
	d := startDetector(t, withFake(DefaultOptions(artifacttest.Random(t, artifacttest.Options{})), f))
	ctx := context.Background()

	f.failNext.Store(true)
	_, err := d.Predict(ctx, "hello")
	require.ErrorIs(t, err, ErrInference)
	assert.Contains(t, err.Error(), "device lost")

	f.panicNext.Store(true)
	_, err = d.Predict(ctx, "hello")
	require.ErrorIs(t, err, ErrInference)
	assert.Contains(t, err.Error(), "panic")

	p, err := d.Predict(ctx, "hello")
	require.NoError(t, err, "detector stays usable")
	assert.Equal(t, roundTo(1/(1+math.Exp(-1)), 4), p.AIProb)

	h := d.Health()
	assert.Equal(t, uint64(2), h.Failures)
	assert.Equal(t, uint64(1), h.Predictions)
}

func TestMalformedBackendOutput(t *testing.T) {
	f := &fakeBackend{logits: []float64{0, 1, 2}}
	d := New(withFake(DefaultOptions(artifacttest.Random(t, artifacttest.Options{})), f), zerolog.Nop())
	err := d.Start(context.Background())
	require.ErrorIs(t, err, ErrInference, "warm-up catches bad shapes")
	assert.Equal(t, classifier.StateFailed, d.State())

	n := &fakeBackend{logits: []float64{math.NaN(), 0}}
	d = New(withFake(DefaultOptions(artifacttest.Random(t, artifacttest.Options{})), n), zerolog.Nop())
	assert.ErrorIs(t, d.Start(context.Background()), ErrInference)
}

func TestNonConcurrentBackendIsSerialized(t *testing.T) {
	f := &fakeBackend{logits: []float64{1, 0}}
	d := startDetector(t, withFake(DefaultOptions(artifacttest.Random(t, artifacttest.Options{})), f))

	p := pool.New().WithErrors().WithMaxGoroutines(16)
	for range 200 {
		p.Go(func() error {
			_, err := d.Predict(context.Background(), "the quick brown fox")
			return err
		})
	}
	require.NoError(t, p.Wait())
	assert.Equal(t, int32(1), f.maxSeen.Load())
}

func TestConcurrentBackendRunsInParallel(t *testing.T) {
	f := &fakeBackend{concurrent: true, logits: []float64{1, 0}, block: make(chan struct{})}
	opts := withFake(DefaultOptions(artifacttest.Random(t, artifacttest.Options{})), f)
	opts.MaxConcurrentForward = 4
	d := New(opts, zerolog.Nop())
	close(f.block)
	require.NoError(t, d.Start(context.Background()))

	f.block = make(chan struct{})
	p := pool.New().WithErrors()
	for range 4 {
		p.Go(func() error {
			_, err := d.Predict(context.Background(), "hello")
			return err
		})
	}
	require.Eventually(t, func() bool { return f.inflight.Load() == 4 }, 5*time.Second, time.Millisecond)
	close(f.block)
	require.NoError(t, p.Wait())
}

func TestGateHonoursContext(t *testing.T) {
	f := &fakeBackend{logits: []float64{1, 0}, block: make(chan struct{})}
	d := New(withFake(DefaultOptions(artifacttest.Random(t, artifacttest.Options{})), f), zerolog.Nop())
	close(f.block)
	require.NoError(t, d.Start(context.Background()))

	f.block = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := d.Predict(context.Background(), "holds the gate")
		done <- err
	}()
	require.Eventually(t, func() bool { return f.inflight.Load() == 1 }, 5*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := d.Predict(ctx, "waits")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(f.block)
	assert.NoError(t, <-done)
}

func TestHealthWhenReady(t *testing.T) {
	d := startDetector(t, DefaultOptions(artifacttest.Random(t, artifacttest.Options{})))
	_, err := d.Predict(context.Background(), "the fox")
	require.NoError(t, err)

	h := d.Health()
	assert.True(t, h.Ready())
	assert.True(t, h.ModelLoaded)
	assert.True(t, h.TokenizerLoaded)
	assert.Equal(t, classifier.BackendNative, h.Backend)
	assert.Equal(t, 1, h.AIIndex)
	assert.Equal(t, 32, h.MaxLength)
	assert.Positive(t, h.WarmupMs)
	assert.Equal(t, uint64(1), h.Predictions)
	assert.Equal(t, int64(0), h.Tensors.Live)
	assert.Positive(t, h.Tensors.Acquired)
	assert.Nil(t, h.Calibration)
}

func TestSugarmeEngine(t *testing.T) {
	opts := DefaultOptions(artifacttest.Random(t, artifacttest.Options{}))
	opts.TokenizerEngine = EngineSugarme

	d := New(opts, zerolog.Nop())
	assert.ErrorIs(t, d.Start(context.Background()), ErrTokenizerEngine)
	h := d.Health()
	assert.Equal(t, "failed", h.State)
	assert.False(t, h.TokenizerLoaded)

	opts.HFTokenizerSemantics = true
	d = startDetector(t, opts)
	p, err := d.Predict(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	assert.Less(t, math.Abs(p.AIProb+p.HumanProb-1), 1e-3)
}

func TestSequentialPredictionsDoNotLeak(t *testing.T) {
	if testing.Short() {
		t.Skip("long-running")
	}
	d := startDetector(t, DefaultOptions(artifacttest.Random(t, artifacttest.Options{})))
	ctx := context.Background()
	texts := []string{"the quick brown fox", "a model was generated", "human", "test text for warm up"}

	// Settle pools before measuring.
	for i := range 100 {
		_, err := d.Predict(ctx, texts[i%len(texts)])
		require.NoError(t, err)
	}
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	for i := range 10_000 {
		_, err := d.Predict(ctx, texts[i%len(texts)])
		require.NoError(t, err)
	}
	runtime.GC()
	runtime.ReadMemStats(&after)

	st := d.Health().Tensors
	assert.Equal(t, int64(0), st.Live)
	assert.Equal(t, st.Acquired, st.Released)
	growth := int64(after.HeapAlloc) - int64(before.HeapAlloc)
	assert.Less(t, growth, int64(8<<20), "heap grew by %d bytes", growth)
}

func TestOptionsFromConfig(t *testing.T) {
	var cfg config.Config
	cfg.Classifier.AIIndex = -1
	cfg.Classifier.DeviceID = 2
	cfg.Tokenizer.HFSemantics = true
	opts := OptionsFromConfig(&cfg)
	assert.Nil(t, opts.AIIndex)
	assert.Equal(t, 2, opts.DeviceID)
	assert.True(t, opts.HFTokenizerSemantics)

	cfg.Classifier.AIIndex = 0
	got := OptionsFromConfig(&cfg).AIIndex
	require.NotNil(t, got)
	assert.Equal(t, 0, *got)
}

func TestFailedTokenizerBuildIsNotReportedLoaded(t *testing.T) {
	opts := DefaultOptions(artifacttest.Random(t, artifacttest.Options{}))
	opts.TokenizerEngine = EngineSugarme
	opts.HFTokenizerSemantics = true
	// The sugarme engine spills its vocabulary to a temp file.
	t.Setenv("TMPDIR", filepath.Join(t.TempDir(), "missing"))

	d := New(opts, zerolog.Nop())
	err := d.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build tokenizer")

	h := d.Health()
	assert.Equal(t, "failed", h.State)
	assert.False(t, h.TokenizerLoaded)
}
