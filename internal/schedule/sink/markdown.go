// Package sink persists and announces pipeline outcomes.
package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/TechnicallyShaun/callsched/internal/schedule/pipeline"
)

var _ pipeline.Store = (*MarkdownStore)(nil)

// MarkdownStore writes one note per schedule entry, with the structured
// fields in YAML front matter and the transcript in the body.
type MarkdownStore struct {
	dir string
}

// NewMarkdownStore creates a store writing into dir.
func NewMarkdownStore(dir string) *MarkdownStore {
	return &MarkdownStore{dir: dir}
}

// frontMatter fields are strings so unresolved parts render as "".
type frontMatter struct {
	Title    string `yaml:"title"`
	Date     string `yaml:"date"`
	Time     string `yaml:"time"`
	Place    string `yaml:"place"`
	RawDate  string `yaml:"raw_date"`
	RawTime  string `yaml:"raw_time"`
	Fallback bool   `yaml:"fallback,omitempty"`
	Source   string `yaml:"source"`
	RunID    string `yaml:"run_id"`
	Recorded string `yaml:"recorded,omitempty"`
}

// Save writes the note and returns nil, or an error if the outcome has no
// schedule or the file could not be created.
func (s *MarkdownStore) Save(ctx context.Context, outcome pipeline.Outcome) error {
	_, err := s.Write(ctx, outcome)
	return err
}

// Write saves the note and returns its path.
func (s *MarkdownStore) Write(ctx context.Context, outcome pipeline.Outcome) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	if s.dir == "" {
		return "", fmt.Errorf("output directory is required")
	}
	if outcome.Schedule == nil {
		return "", fmt.Errorf("outcome %s has no schedule", outcome.RunID)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	content, err := noteContent(outcome)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	path, err := createUnique(s.dir, baseName(outcome), ".md", content)
	if err != nil {
		return "", err
	}
	return path, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// baseName is YYYY-MM-DD-HHmm-<title slug>, using the entry's start when
// known and the recording time otherwise.
func baseName(outcome pipeline.Outcome) string {
	ts, ok := outcome.Schedule.Start()
	if !ok {
		ts = outcome.Source.ModTime
	}
	if ts.IsZero() {
		ts = outcome.StartedAt
	}

	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(outcome.Schedule.Title), "-"), "-")
	if len(slug) > 48 {
		slug = strings.TrimRight(slug[:48], "-")
	}
	if slug == "" {
		slug = "call"
	}
	return ts.Format("2006-01-02-1504") + "-" + slug
}

// createUnique writes content to base+ext, adding -2, -3 and so on when the
// name is taken. O_EXCL makes the check and the create one step.
func createUnique(dir, base, ext string, content []byte) (string, error) {
	for i := 1; i <= 1000; i++ {
		name := base + ext
		if i > 1 {
			name = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create output file: %w", err)
		}
		if _, err := f.Write(content); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("failed to write output file: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("failed to write output file: %w", err)
		}
		return path, nil
	}
	return "", fmt.Errorf("too many files named %s", base)
}

func noteContent(outcome pipeline.Outcome) ([]byte, error) {
	s := outcome.Schedule
	fm := frontMatter{
		Title:    s.Title,
		Date:     s.Date.String(),
		Place:    s.Place,
		RawDate:  s.RawDate,
		RawTime:  s.RawTime,
		Fallback: s.Fallback,
		Source:   filepath.Base(outcome.Source.Path),
		RunID:    outcome.RunID,
	}
	if s.Time.Valid {
		fm.Time = s.Time.Hour() + ":" + s.Time.Minute()
	}
	if !outcome.Source.ModTime.IsZero() {
		fm.Recorded = outcome.Source.ModTime.Format("2006-01-02 15:04")
	}

	header, err := yaml.Marshal(fm)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(header)
	sb.WriteString("---\n\n")

	title := s.Title
	if title == "" {
		title = "Call"
	}
	sb.WriteString("# " + title + "\n\n")
	sb.WriteString("**When:** " + when(s) + "\n\n")
	if s.Place != "" {
		sb.WriteString("**Where:** " + s.Place + "\n\n")
	}
	if outcome.Transcript != "" {
		sb.WriteString("## Transcript\n\n")
		sb.WriteString(strings.TrimSpace(outcome.Transcript))
		sb.WriteString("\n")
	}
	return []byte(sb.String()), nil
}

func when(s *pipeline.ResolvedSchedule) string {
	var parts []string
	if s.Date.Valid {
		parts = append(parts, s.Date.String())
	} else if s.RawDate != "" {
		parts = append(parts, s.RawDate+" (unresolved)")
	}
	if s.Time.Valid {
		parts = append(parts, s.Time.Hour()+":"+s.Time.Minute())
	} else if s.RawTime != "" {
		parts = append(parts, s.RawTime+" (unresolved)")
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, " ")
}
