package credits

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Confirmer asks an operator before a destructive bulk run.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// IsAffirmative accepts "yes" in any case and nothing else.
func IsAffirmative(answer string) bool {
	return strings.EqualFold(strings.TrimSpace(answer), "yes")
}

// Prompter reads answers line by line from one shared reader, so several
// questions in a row don't lose buffered input.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// Ask prints the question and returns the trimmed answer.
// EOF after a partial line still yields that line.
func (p *Prompter) Ask(question string) (string, error) {
	fmt.Fprintf(p.out, "%s ", question)
	line, err := p.in.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Confirm implements Confirmer. A closed input counts as a decline.
func (p *Prompter) Confirm(_ context.Context, prompt string) (bool, error) {
	answer, err := p.Ask(prompt)
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return IsAffirmative(answer), nil
}
