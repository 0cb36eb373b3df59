package migrate

import (
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"
)

// Confirmer answers a confirmation prompt. An answer of "y" approves.
type Confirmer interface {
	Ask(prompt string) (string, error)
}

func approved(answer string) bool {
	return strings.EqualFold(strings.TrimSpace(answer), "y")
}

// AutoApprove approves every prompt.
type AutoApprove struct{}

// Ask returns "y".
func (AutoApprove) Ask(string) (string, error) {
	return "y", nil
}

// ScriptedConfirmer replays canned answers and records the prompts it was
// shown. Once the answers run out it declines.
type ScriptedConfirmer struct {
	mu      sync.Mutex
	answers []string
	prompts []string
}

// NewScriptedConfirmer creates a confirmer answering in order.
func NewScriptedConfirmer(answers ...string) *ScriptedConfirmer {
	return &ScriptedConfirmer{answers: answers}
}

// Ask pops the next answer.
func (s *ScriptedConfirmer) Ask(prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if len(s.answers) == 0 {
		return "n", nil
	}
	answer := s.answers[0]
	s.answers = s.answers[1:]
	return answer, nil
}

// Prompts returns the prompts shown so far.
func (s *ScriptedConfirmer) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// PromptConfirmer asks on the terminal.
type PromptConfirmer struct {
	rl *readline.Instance
}

// NewPromptConfirmer creates a terminal confirmer. Passing nil streams uses
// the process stdin and stdout.
func NewPromptConfirmer(in io.ReadCloser, out io.Writer) (*PromptConfirmer, error) {
	rl, err := readline.NewEx(&readline.Config{
		Stdin:           in,
		Stdout:          out,
		InterruptPrompt: "^C",
	})
	if err != nil {
		return nil, err
	}
	return &PromptConfirmer{rl: rl}, nil
}

// Ask shows prompt and reads one line. Interrupt and end of input decline.
func (p *PromptConfirmer) Ask(prompt string) (string, error) {
	p.rl.SetPrompt(prompt)
	line, err := p.rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
		return "n", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Close releases the terminal.
func (p *PromptConfirmer) Close() error {
	return p.rl.Close()
}
