package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrValueRequired is returned when a required prompt is left empty.
var ErrValueRequired = errors.New("value is required")

// Prompter defines the interface for reading user input
type Prompter interface {
	Prompt(prompt string) (string, error)
}

// StreamPrompter writes prompts to out and reads answers line by line
// from in.
type StreamPrompter struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewStreamPrompter creates a prompter over the given streams. A nil out
// discards the prompt text.
func NewStreamPrompter(in io.Reader, out io.Writer) *StreamPrompter {
	if out == nil {
		out = io.Discard
	}
	return &StreamPrompter{reader: bufio.NewReader(in), out: out}
}

// Prompt displays a prompt and reads user input. A final line without a
// trailing newline is still returned.
func (p *StreamPrompter) Prompt(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	input, err := p.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && input != "") {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// promptRequired prompts for a required field, returning an error if empty
func promptRequired(p Prompter, prompt string) (string, error) {
	value, err := p.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", fmt.Errorf("%s: %w", strings.TrimSuffix(prompt, ": "), ErrValueRequired)
	}
	return value, nil
}

// promptDefault prompts for an optional field and returns def when the
// answer is empty.
func promptDefault(p Prompter, prompt, def string) (string, error) {
	value, err := p.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if value == "" {
		return def, nil
	}
	return value, nil
}
