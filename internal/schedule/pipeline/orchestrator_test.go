package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TechnicallyShaun/callsched/internal/schedule/audio"
	"github.com/TechnicallyShaun/callsched/internal/schedule/completion"
	"github.com/TechnicallyShaun/callsched/internal/schedule/response"
)

// refNow is a Tuesday afternoon.
var refNow = time.Date(2025, 6, 10, 15, 4, 0, 0, time.UTC)

const goodReply = "TITLE: Dentist appointment\nSCHEDULE: {\"date\": \"next monday\", \"time\": \"2:15pm\", \"place\": \"Main St clinic\"}"

// fakeTranscoder writes a small file to the output path, like the real
// transcoder, so cleanup can be observed.
type fakeTranscoder struct {
	err       error
	panicMsg  string
	outputs   []string
	writeFile bool
}

func (f *fakeTranscoder) Transcode(in, out string) (audio.Stats, error) {
	f.outputs = append(f.outputs, out)
	if f.writeFile {
		if err := os.WriteFile(out, []byte("RIFF"), 0o600); err != nil {
			return audio.Stats{}, err
		}
	}
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return audio.Stats{}, f.err
	}
	return audio.Stats{Codec: "mp4a", SourceRate: 44100, SourceChannels: 2, Samples: 16000}, nil
}

type fakeTranscriber struct {
	text  string
	err   error
	calls int
	path  string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcmPath string) (string, error) {
	f.calls++
	f.path = pcmPath
	return f.text, f.err
}

type fakeAnalyzer struct {
	reply  string
	err    error
	calls  int
	prompt string
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, prompt string) (string, error) {
	f.calls++
	f.prompt = prompt
	return f.reply, f.err
}

type fakeStore struct {
	err   error
	saved []Outcome
}

func (f *fakeStore) Save(ctx context.Context, o Outcome) error {
	f.saved = append(f.saved, o)
	return f.err
}

type fakeNotifier struct {
	mu       sync.Mutex
	outcomes []Outcome
	err      error
	panics   bool
}

func (f *fakeNotifier) Notify(ctx context.Context, o Outcome) error {
	f.mu.Lock()
	f.outcomes = append(f.outcomes, o)
	f.mu.Unlock()
	if f.panics {
		panic("notifier bug")
	}
	return f.err
}

type harness struct {
	transcoder  *fakeTranscoder
	transcriber *fakeTranscriber
	analyzer    *fakeAnalyzer
	store       *fakeStore
	notifier    *fakeNotifier
	tempDir     string
	source      completion.RawAudioFile
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	srcDir := t.TempDir()
	path := filepath.Join(srcDir, "call.m4a")
	if err := os.WriteFile(path, []byte("recording"), 0o644); err != nil {
		t.Fatal(err)
	}

	return &harness{
		transcoder:  &fakeTranscoder{writeFile: true},
		transcriber: &fakeTranscriber{text: "Hi, can we book you in for next Monday at quarter past two?"},
		analyzer:    &fakeAnalyzer{reply: goodReply},
		store:       &fakeStore{},
		notifier:    &fakeNotifier{},
		tempDir:     t.TempDir(),
		source:      completion.RawAudioFile{Path: path, Size: 9, ModTime: refNow},
	}
}

func (h *harness) orchestrator(opts ...Option) *Orchestrator {
	opts = append([]Option{
		WithTempDir(h.tempDir),
		WithClock(func() time.Time { return refNow }),
		WithIDGenerator(func() string { return "run-1" }),
	}, opts...)
	return New(h.transcoder, h.transcriber, h.analyzer, h.store, h.notifier, opts...)
}

func (h *harness) assertNoTempFiles(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp dir not empty: %v", entries)
	}
}

func (h *harness) assertNotifiedOnce(t *testing.T, want Outcome) {
	t.Helper()
	if len(h.notifier.outcomes) != 1 {
		t.Fatalf("notifier called %d times, want 1", len(h.notifier.outcomes))
	}
	if h.notifier.outcomes[0].RunID != want.RunID || h.notifier.outcomes[0].Status() != want.Status() {
		t.Errorf("notified %+v, want %+v", h.notifier.outcomes[0], want)
	}
}

func TestRun_Completed(t *testing.T) {
	h := newHarness(t)

	out := h.orchestrator().Run(context.Background(), h.source)

	if !out.Completed() {
		t.Fatalf("expected completed outcome, got failure %v", out.Failure)
	}
	s := out.Schedule
	if s.Title != "Dentist appointment" || s.Place != "Main St clinic" {
		t.Errorf("unexpected schedule %+v", s)
	}
	if s.Date.String() != "2025-06-16" {
		t.Errorf("Date = %q, want 2025-06-16", s.Date.String())
	}
	if s.Time.Hour() != "14" || s.Time.Minute() != "15" {
		t.Errorf("Time = %s:%s, want 14:15", s.Time.Hour(), s.Time.Minute())
	}
	if s.RawDate != "next monday" || s.RawTime != "2:15pm" || s.Fallback {
		t.Errorf("unexpected raw fields %+v", s)
	}

	if out.RunID != "run-1" || out.StartedAt != refNow || out.FinishedAt != refNow {
		t.Errorf("unexpected run metadata %+v", out)
	}
	if want := filepath.Join(h.tempDir, "callsched-run-1.wav"); h.transcriber.path != want {
		t.Errorf("transcriber got %q, want %q", h.transcriber.path, want)
	}
	if !strings.Contains(h.analyzer.prompt, "quarter past two") {
		t.Errorf("prompt does not embed transcript: %q", h.analyzer.prompt)
	}
	if len(h.store.saved) != 1 || h.store.saved[0].Schedule == nil {
		t.Fatalf("store got %v, want one schedule", h.store.saved)
	}

	h.assertNoTempFiles(t)
	h.assertNotifiedOnce(t, out)

	if _, err := os.Stat(h.source.Path); err != nil {
		t.Errorf("source recording must be left in place: %v", err)
	}
}

func TestRun_MissingScheduleMarker(t *testing.T) {
	h := newHarness(t)
	h.analyzer.reply = "TITLE: Dentist appointment\nSorry, I could not find a time."

	out := h.orchestrator().Run(context.Background(), h.source)

	if out.Completed() || out.Failure == nil {
		t.Fatal("expected failure")
	}
	if out.Failure.Stage != Validating {
		t.Errorf("Stage = %s, want Validating", out.Failure.Stage)
	}
	if !errors.Is(out.Failure, response.ErrMissingSection) {
		t.Errorf("Failure = %v, want ErrMissingSection", out.Failure)
	}
	if len(h.store.saved) != 0 {
		t.Error("store must not be called after a validation failure")
	}
	h.assertNoTempFiles(t)
	h.assertNotifiedOnce(t, out)
}

func TestRun_StageFailures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name       string
		setup      func(h *harness)
		wantStage  Stage
		wantReason string
		wantErr    error
		wantStored bool
	}{
		{
			name: "source vanished",
			setup: func(h *harness) {
				os.Remove(h.source.Path)
			},
			wantStage: FileStable,
			wantErr:   os.ErrNotExist,
		},
		{
			name: "no audio track",
			setup: func(h *harness) {
				h.transcoder.writeFile = false
				h.transcoder.err = &audio.TranscodeError{Kind: audio.ErrNoAudioTrack, Path: h.source.Path}
			},
			wantStage: Transcoding,
			wantErr:   audio.ErrNoAudioTrack,
		},
		{
			name: "transcoder panics after writing",
			setup: func(h *harness) {
				h.transcoder.panicMsg = "index out of range"
			},
			wantStage:  Transcoding,
			wantReason: "internal error: index out of range",
		},
		{
			name: "transcription error",
			setup: func(h *harness) {
				h.transcriber.err = boom
			},
			wantStage: Transcribing,
			wantErr:   boom,
		},
		{
			name: "blank transcript",
			setup: func(h *harness) {
				h.transcriber.text = "  \n\t "
			},
			wantStage:  Transcribing,
			wantReason: "empty result",
			wantErr:    ErrEmptyTranscript,
		},
		{
			name: "analyzer error",
			setup: func(h *harness) {
				h.analyzer.err = boom
			},
			wantStage: Analyzing,
			wantErr:   boom,
		},
		{
			name: "malformed payload",
			setup: func(h *harness) {
				h.analyzer.reply = "TITLE: x\nSCHEDULE: {\"date\": {\"nested\": 1}}"
			},
			wantStage: Validating,
			wantErr:   response.ErrMalformedPayload,
		},
		{
			name: "missing field",
			setup: func(h *harness) {
				h.analyzer.reply = "TITLE: x\nSCHEDULE: {\"date\": \"today\", \"time\": \"9\"}"
			},
			wantStage: Validating,
			wantErr:   response.ErrMissingField,
		},
		{
			name: "store error",
			setup: func(h *harness) {
				h.store.err = boom
			},
			wantStage:  Persisting,
			wantErr:    boom,
			wantStored: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)

			out := h.orchestrator().Run(context.Background(), h.source)

			if out.Failure == nil {
				t.Fatal("expected failure")
			}
			if out.Schedule != nil {
				t.Error("failed outcome must not carry a schedule")
			}
			if out.Failure.Stage != tt.wantStage {
				t.Errorf("Stage = %s, want %s", out.Failure.Stage, tt.wantStage)
			}
			if tt.wantReason != "" && out.Failure.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", out.Failure.Reason, tt.wantReason)
			}
			if tt.wantErr != nil && !errors.Is(out.Failure, tt.wantErr) {
				t.Errorf("Failure = %v, want %v", out.Failure, tt.wantErr)
			}
			if (len(h.store.saved) > 0) != tt.wantStored {
				t.Errorf("store called = %v, want %v", len(h.store.saved) > 0, tt.wantStored)
			}
			if h.analyzer.calls > 1 {
				t.Errorf("analyzer called %d times, want at most 1", h.analyzer.calls)
			}

			h.assertNoTempFiles(t)
			h.assertNotifiedOnce(t, out)
		})
	}
}

func TestRun_SkipsStagesAfterFailure(t *testing.T) {
	h := newHarness(t)
	h.transcoder.err = errors.New("decode failed")

	h.orchestrator().Run(context.Background(), h.source)

	if h.transcriber.calls != 0 || h.analyzer.calls != 0 {
		t.Errorf("later stages ran: transcriber=%d analyzer=%d", h.transcriber.calls, h.analyzer.calls)
	}
}

func TestRun_UnresolvedTimeIsSurfaced(t *testing.T) {
	h := newHarness(t)
	h.analyzer.reply = "TITLE: Catch up\nSCHEDULE: {\"date\": \"sometime soon\", \"time\": \"whenever\", \"place\": \"\"}"

	out := h.orchestrator().Run(context.Background(), h.source)

	if !out.Completed() {
		t.Fatalf("unresolved date/time must not fail the run: %v", out.Failure)
	}
	s := out.Schedule
	if s.Date.Valid || s.Time.Valid || s.Fallback {
		t.Errorf("expected unresolved date and time, got %+v", s)
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"date":""`, `"hour":""`, `"minute":""`, `"raw_date":"sometime soon"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("JSON %s missing %s", data, want)
		}
	}
}

func TestRun_NextHourFallback(t *testing.T) {
	h := newHarness(t)
	h.analyzer.reply = "TITLE: Catch up\nSCHEDULE: {\"date\": \"friday\", \"time\": \"whenever\", \"place\": \"\"}"

	out := h.orchestrator(WithTimeFallback(FallbackNextHour)).Run(context.Background(), h.source)

	if !out.Completed() {
		t.Fatalf("unexpected failure: %v", out.Failure)
	}
	s := out.Schedule
	if !s.Fallback {
		t.Error("expected Fallback to be set")
	}
	if s.Date.String() != "2025-06-13" {
		t.Errorf("resolved date should be kept, got %q", s.Date.String())
	}
	if s.Time.Hour() != "16" || s.Time.Minute() != "04" {
		t.Errorf("Time = %s:%s, want 16:04", s.Time.Hour(), s.Time.Minute())
	}
}

func TestRun_ResolvesRelativeToRecordingTime(t *testing.T) {
	h := newHarness(t)
	h.analyzer.reply = "TITLE: x\nSCHEDULE: {\"date\": \"tomorrow\", \"time\": \"noon\", \"place\": \"\"}"
	h.source.ModTime = time.Date(2025, 1, 31, 22, 0, 0, 0, time.UTC)

	out := h.orchestrator().Run(context.Background(), h.source)
	if !out.Completed() {
		t.Fatalf("unexpected failure: %v", out.Failure)
	}
	if got := out.Schedule.Date.String(); got != "2025-02-01" {
		t.Errorf("Date = %q, want 2025-02-01", got)
	}
}

func TestRun_NotifierProblemsDoNotChangeOutcome(t *testing.T) {
	for _, tc := range []struct {
		name   string
		err    error
		panics bool
	}{
		{"error", errors.New("webhook down"), false},
		{"panic", nil, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.notifier.err = tc.err
			h.notifier.panics = tc.panics

			out := h.orchestrator().Run(context.Background(), h.source)
			if !out.Completed() {
				t.Errorf("notifier failure changed outcome: %v", out.Failure)
			}
			h.assertNotifiedOnce(t, out)
		})
	}
}

func TestRun_ConcurrentRunsUseDistinctTempFiles(t *testing.T) {
	h := newHarness(t)
	o := New(h.transcoder, &fakeTranscriber{text: "hello"}, &fakeAnalyzer{reply: goodReply}, &fakeStore{}, &fakeNotifier{},
		WithTempDir(h.tempDir))

	// The fake transcoder is not goroutine safe, so runs are sequential here;
	// the generated IDs are what keeps concurrent runs apart.
	o.Run(context.Background(), h.source)
	o.Run(context.Background(), h.source)

	if len(h.transcoder.outputs) != 2 || h.transcoder.outputs[0] == h.transcoder.outputs[1] {
		t.Errorf("temp paths not unique: %v", h.transcoder.outputs)
	}
	for _, p := range h.transcoder.outputs {
		if !strings.HasPrefix(filepath.Base(p), "callsched-") || filepath.Ext(p) != ".wav" {
			t.Errorf("unexpected temp name %q", p)
		}
	}
	h.assertNoTempFiles(t)
}

func TestReportDropped(t *testing.T) {
	h := newHarness(t)
	cause := errors.New("stabilization timeout: file did not stabilize in time")

	out := h.orchestrator().ReportDropped(context.Background(), "/calls/partial.m4a", cause)

	if out.Failure == nil || out.Failure.Stage != FileStable {
		t.Fatalf("expected Failed(FileStable), got %+v", out.Failure)
	}
	if !errors.Is(out.Failure, cause) {
		t.Errorf("cause not preserved")
	}
	if h.transcoder.outputs != nil {
		t.Error("dropped candidate must not reach the transcoder")
	}
	h.assertNotifiedOnce(t, out)
}

func TestOutcome_MarshalJSON(t *testing.T) {
	out := Outcome{
		RunID:   "abc",
		Source:  completion.RawAudioFile{Path: "/calls/a.m4a", Size: 10},
		Failure: &Failure{Stage: Analyzing, Reason: "timeout", Err: errors.New("timeout")},
	}
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["status"] != "failed" || decoded["run_id"] != "abc" {
		t.Errorf("unexpected JSON %s", data)
	}
	failure := decoded["failure"].(map[string]any)
	if failure["stage"] != "Analyzing" || failure["reason"] != "timeout" {
		t.Errorf("unexpected failure JSON %v", failure)
	}
	if _, ok := decoded["schedule"]; ok {
		t.Error("failed outcome should omit schedule")
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("  see you at the cafe  ")
	for _, want := range []string{"TITLE:", "SCHEDULE:", `"date"`, `"time"`, `"place"`, "see you at the cafe\n"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestStage_String(t *testing.T) {
	for s := Idle; s <= Completed; s++ {
		parsed, err := ParseStage(s.String())
		if err != nil || parsed != s {
			t.Errorf("ParseStage(%q) = %v, %v", s.String(), parsed, err)
		}
	}
	if Stage(42).String() != "Stage(42)" {
		t.Errorf("unexpected name for unknown stage")
	}
	if _, err := ParseStage("Failed"); err == nil {
		t.Error("expected error for unknown stage name")
	}
}

func TestParseTimeFallback(t *testing.T) {
	tests := map[string]TimeFallback{"": FallbackNone, "none": FallbackNone, "NEXT_HOUR": FallbackNextHour}
	for in, want := range tests {
		got, err := ParseTimeFallback(in)
		if err != nil || got != want {
			t.Errorf("ParseTimeFallback(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseTimeFallback("tomorrow"); err == nil {
		t.Error("expected error")
	}
}
