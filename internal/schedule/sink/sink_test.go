package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/TechnicallyShaun/callsched/internal/schedule/completion"
	"github.com/TechnicallyShaun/callsched/internal/schedule/datetime"
	"github.com/TechnicallyShaun/callsched/internal/schedule/logging"
	"github.com/TechnicallyShaun/callsched/internal/schedule/pipeline"
)

var recorded = time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)

func completedOutcome() pipeline.Outcome {
	return pipeline.Outcome{
		RunID:      "run-42",
		Source:     completion.RawAudioFile{Path: "/calls/2024-03-15 dentist.m4a", Size: 1024, ModTime: recorded},
		Transcript: "Can you come in Monday at quarter past two?",
		Schedule: &pipeline.ResolvedSchedule{
			Title:   "Dentist: check-up",
			Date:    pipeline.Date{Time: time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC), Valid: true},
			Time:    pipeline.Clock{Value: datetime.Clock{Hour: 14, Minute: 15}, Valid: true},
			Place:   "Main St clinic",
			RawDate: "Monday",
			RawTime: "quarter past two",
		},
		StartedAt:  recorded,
		FinishedAt: recorded.Add(1500 * time.Millisecond),
	}
}

func failedOutcome() pipeline.Outcome {
	return pipeline.Outcome{
		RunID:      "run-43",
		Source:     completion.RawAudioFile{Path: "/calls/broken.m4a"},
		Failure:    &pipeline.Failure{Stage: pipeline.Validating, Reason: "invalid response: missing section: schedule"},
		StartedAt:  recorded,
		FinishedAt: recorded.Add(time.Second),
	}
}

func TestMarkdownStore_Write(t *testing.T) {
	dir := t.TempDir()
	store := NewMarkdownStore(dir)

	path, err := store.Write(context.Background(), completedOutcome())
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if got, want := filepath.Base(path), "2024-03-18-1415-dentist-check-up.md"; got != want {
		t.Errorf("filename = %s, want %s", got, want)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.SplitN(string(content), "---\n", 3)
	if len(parts) != 3 || parts[0] != "" {
		t.Fatalf("missing front matter:\n%s", content)
	}

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(parts[1]), &fm); err != nil {
		t.Fatalf("front matter is not YAML: %v", err)
	}
	want := frontMatter{
		Title:    "Dentist: check-up",
		Date:     "2024-03-18",
		Time:     "14:15",
		Place:    "Main St clinic",
		RawDate:  "Monday",
		RawTime:  "quarter past two",
		Source:   "2024-03-15 dentist.m4a",
		RunID:    "run-42",
		Recorded: "2024-03-15 14:30",
	}
	if fm != want {
		t.Errorf("front matter = %+v, want %+v", fm, want)
	}

	body := parts[2]
	for _, s := range []string{"# Dentist: check-up", "**When:** 2024-03-18 14:15", "**Where:** Main St clinic", "## Transcript", "quarter past two?"} {
		if !strings.Contains(body, s) {
			t.Errorf("body missing %q:\n%s", s, body)
		}
	}
}

func TestMarkdownStore_Unresolved(t *testing.T) {
	out := completedOutcome()
	out.Schedule.Date = pipeline.Date{}
	out.Schedule.Time = pipeline.Clock{}
	out.Schedule.RawDate = "sometime"
	out.Schedule.RawTime = ""

	path, err := NewMarkdownStore(t.TempDir()).Write(context.Background(), out)
	if err != nil {
		t.Fatal(err)
	}

	// Falls back to the recording time for the name.
	if got := filepath.Base(path); got != "2024-03-15-1430-dentist-check-up.md" {
		t.Errorf("filename = %s", got)
	}
	content, _ := os.ReadFile(path)
	if !strings.Contains(string(content), "date: \"\"") || !strings.Contains(string(content), "**When:** sometime (unresolved)") {
		t.Errorf("unresolved fields not rendered:\n%s", content)
	}
}

func TestMarkdownStore_Collision(t *testing.T) {
	dir := t.TempDir()
	store := NewMarkdownStore(dir)

	var names []string
	for i := 0; i < 3; i++ {
		path, err := store.Write(context.Background(), completedOutcome())
		if err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
		names = append(names, filepath.Base(path))
	}

	want := []string{
		"2024-03-18-1415-dentist-check-up.md",
		"2024-03-18-1415-dentist-check-up-2.md",
		"2024-03-18-1415-dentist-check-up-3.md",
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestMarkdownStore_Errors(t *testing.T) {
	if err := NewMarkdownStore(t.TempDir()).Save(context.Background(), failedOutcome()); err == nil {
		t.Error("expected error for outcome without schedule")
	}
	if err := NewMarkdownStore("").Save(context.Background(), completedOutcome()); err == nil {
		t.Error("expected error for empty output dir")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewMarkdownStore(t.TempDir()).Save(ctx, completedOutcome()); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestLedger_AppendsEveryOutcome(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger", "calls.xlsx")
	ledger := NewLedger(path)

	for _, o := range []pipeline.Outcome{completedOutcome(), failedOutcome()} {
		if err := ledger.Notify(context.Background(), o); err != nil {
			t.Fatalf("Notify failed: %v", err)
		}
	}

	rows, err := ledger.Rows()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	completed := rows[0]
	checks := map[int]string{0: "run-42", 1: "completed", 4: "Dentist: check-up", 5: "2024-03-18", 6: "14", 7: "15", 8: "Main St clinic", 11: "false", 15: "1500"}
	for col, want := range checks {
		if col >= len(completed) || completed[col] != want {
			t.Errorf("completed row col %d (%s) = %v, want %q", col, LedgerHeader[col], completed, want)
		}
	}

	failed := rows[1]
	if failed[1] != "failed" || failed[12] != "Validating" || !strings.Contains(failed[13], "missing section") {
		t.Errorf("failed row = %v", failed)
	}

	// No leftover temp workbook.
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("ledger dir has %d entries, want 1", len(entries))
	}
}

func TestLedger_ReopensExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.xlsx")

	if err := NewLedger(path).Notify(context.Background(), completedOutcome()); err != nil {
		t.Fatal(err)
	}
	second := NewLedger(path)
	if err := second.Notify(context.Background(), failedOutcome()); err != nil {
		t.Fatal(err)
	}

	rows, err := second.Rows()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0][0] != "run-42" || rows[1][0] != "run-43" {
		t.Errorf("rows = %v", rows)
	}
}

func TestWebhook_Delivers(t *testing.T) {
	var gotKey string
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	if err := NewWebhook(server.URL).Notify(context.Background(), completedOutcome()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if gotKey != "run-42" {
		t.Errorf("Idempotency-Key = %q, want run-42", gotKey)
	}
	if got["status"] != "completed" || got["run_id"] != "run-42" {
		t.Errorf("payload = %v", got)
	}
}

func TestWebhook_Retry(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		wantErr   bool
		wantCalls int32
	}{
		{"recovers after 503", []int{503, 503, 200}, false, 3},
		{"retries 429", []int{429, 204}, false, 2},
		{"gives up", []int{500, 500, 500, 500, 500}, true, 3},
		{"400 is permanent", []int{400, 200}, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := calls.Add(1)
				w.WriteHeader(tt.statuses[n-1])
			}))
			defer server.Close()

			hook := NewWebhook(server.URL, WithWebhookRetry(2, time.Millisecond))
			err := hook.Notify(context.Background(), failedOutcome())

			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			var werr *WebhookError
			if tt.wantErr && !errors.As(err, &werr) {
				t.Errorf("err = %T, want *WebhookError", err)
			}
			if n := calls.Load(); n != tt.wantCalls {
				t.Errorf("calls = %d, want %d", n, tt.wantCalls)
			}
		})
	}
}

type countingNotifier struct {
	calls int
	err   error
}

func (c *countingNotifier) Notify(context.Context, pipeline.Outcome) error {
	c.calls++
	return c.err
}

type countingStore struct {
	calls int
	err   error
}

func (c *countingStore) Save(context.Context, pipeline.Outcome) error {
	c.calls++
	return c.err
}

func TestMultiNotifier(t *testing.T) {
	boom := errors.New("boom")
	a, b, c := &countingNotifier{}, &countingNotifier{err: boom}, &countingNotifier{}

	err := MultiNotifier{a, b, c}.Notify(context.Background(), completedOutcome())
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if a.calls != 1 || b.calls != 1 || c.calls != 1 {
		t.Errorf("calls = %d %d %d, want all 1", a.calls, b.calls, c.calls)
	}

	if err := (MultiNotifier{}).Notify(context.Background(), completedOutcome()); err != nil {
		t.Errorf("empty MultiNotifier err = %v", err)
	}
}

func TestMultiStore(t *testing.T) {
	boom := errors.New("disk full")
	a, b := &countingStore{err: boom}, &countingStore{}

	err := MultiStore{a, b}.Save(context.Background(), completedOutcome())
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want disk full", err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("calls = %d %d, want 1 1", a.calls, b.calls)
	}
}

func TestLogNotifier(t *testing.T) {
	logger, err := logging.New(logging.Config{LogDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Close()

	n := NewLogNotifier(logger)
	n.Notify(context.Background(), completedOutcome())
	n.Notify(context.Background(), failedOutcome())

	data, err := os.ReadFile(logger.LogPath())
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2:\n%s", len(lines), data)
	}

	var first, second map[string]any
	json.Unmarshal([]byte(lines[0]), &first)
	json.Unmarshal([]byte(lines[1]), &second)

	if first["message"] != OutcomeMessage || first["status"] != "completed" || first["hour"] != "14" || first["elapsed_ms"] != float64(1500) {
		t.Errorf("completed line = %v", first)
	}
	if second["status"] != "failed" || second["stage"] != "Validating" {
		t.Errorf("failed line = %v", second)
	}
}
