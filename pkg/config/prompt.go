package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// Prompter collects input from the operator.
type Prompter interface {
	// Prompt asks for a single value. Secret input is not echoed.
	Prompt(label string, secret bool) (string, error)

	// Confirm shows instructions and asks a yes/no question.
	Confirm(instructions, question string) (bool, error)

	// Collect shows instructions and reads a value, asking again until
	// valid accepts it. A nil valid accepts anything.
	Collect(instructions, label string, valid func(string) bool) (string, error)

	// Choose lists choices and returns the index of the one picked.
	Choose(question string, choices []string) (int, error)

	// Wait shows instructions and blocks until the operator presses Enter.
	Wait(instructions string) error
}

// TerminalPrompter prompts on a terminal.
type TerminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
	tty bool
}

// NewTerminalPrompter prompts on stdin and stderr.
func NewTerminalPrompter() *TerminalPrompter {
	fd := int(os.Stdin.Fd())
	return &TerminalPrompter{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stderr,
		fd:  fd,
		tty: term.IsTerminal(fd),
	}
}

// NewPrompter prompts on the given streams. Secret input is read like any
// other line.
func NewPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(in), out: out, fd: -1}
}

func (p *TerminalPrompter) Prompt(label string, secret bool) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	if secret && p.tty {
		raw, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", label, err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	return p.readLine()
}

func (p *TerminalPrompter) Confirm(instructions, question string) (bool, error) {
	p.panel(instructions)
	for {
		fmt.Fprintf(p.out, "%s [y/n]: ", question)
		answer, err := p.readLine()
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(p.out, "Please answer y or n.")
	}
}

func (p *TerminalPrompter) Collect(instructions, label string, valid func(string) bool) (string, error) {
	p.panel(instructions)
	for {
		fmt.Fprintf(p.out, "%s: ", label)
		value, err := p.readLine()
		if err != nil {
			return "", err
		}
		if valid == nil || valid(value) {
			return value, nil
		}
		fmt.Fprintln(p.out, "Invalid input. Please try again.")
	}
}

func (p *TerminalPrompter) Choose(question string, choices []string) (int, error) {
	if len(choices) == 0 {
		return 0, fmt.Errorf("no choices for %q", question)
	}
	fmt.Fprintf(p.out, "\n%s\n", question)
	for i, c := range choices {
		fmt.Fprintf(p.out, "  %d. %s\n", i+1, c)
	}
	for {
		fmt.Fprint(p.out, "Select [1]: ")
		raw, err := p.readLine()
		if err != nil {
			return 0, err
		}
		if raw == "" {
			return 0, nil
		}
		if n, err := strconv.Atoi(raw); err == nil && n >= 1 && n <= len(choices) {
			return n - 1, nil
		}
		fmt.Fprintf(p.out, "Please enter a number between 1 and %d.\n", len(choices))
	}
}

func (p *TerminalPrompter) Wait(instructions string) error {
	p.panel(instructions)
	fmt.Fprint(p.out, "Press Enter to continue...")
	_, err := p.readLine()
	return err
}

func (p *TerminalPrompter) panel(text string) {
	if text == "" {
		return
	}
	rule := strings.Repeat("-", 60)
	fmt.Fprintf(p.out, "\n%s\n%s\n%s\n", rule, strings.TrimSpace(text), rule)
}

func (p *TerminalPrompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
