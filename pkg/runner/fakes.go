package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

var _ Runner = &FakeRunner{}

// FakeRunner scripts command results for tests. Rules match on binary name
// and an argument prefix; the first matching rule wins.
type FakeRunner struct {
	mu    sync.Mutex
	rules []*FakeRule
	calls []Cmd

	// Handler, when set, answers any command no rule matches.
	Handler func(Cmd) (*Result, error)
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// FakeRule is a scripted response sequence. Each call consumes the next
// outcome; the last one repeats.
type FakeRule struct {
	name     string
	prefix   []string
	outcomes []fakeOutcome
	next     int
}

type fakeOutcome struct {
	stdout string
	stderr string
	code   int
	err    error
}

// On registers a rule for name with the given leading arguments.
func (f *FakeRunner) On(name string, argPrefix ...string) *FakeRule {
	f.mu.Lock()
	defer f.mu.Unlock()
	rule := &FakeRule{name: name, prefix: argPrefix}
	f.rules = append(f.rules, rule)
	return rule
}

// Return appends a successful outcome with the given stdout.
func (r *FakeRule) Return(stdout string) *FakeRule {
	r.outcomes = append(r.outcomes, fakeOutcome{stdout: stdout})
	return r
}

// Fail appends a non-zero exit with the given stderr.
func (r *FakeRule) Fail(code int, stderr string) *FakeRule {
	r.outcomes = append(r.outcomes, fakeOutcome{stderr: stderr, code: code})
	return r
}

// Error appends an outcome where the command could not run at all.
func (r *FakeRule) Error(err error) *FakeRule {
	r.outcomes = append(r.outcomes, fakeOutcome{err: err})
	return r
}

func (r *FakeRule) matches(c Cmd) bool {
	if r.name != c.Name || len(c.Args) < len(r.prefix) {
		return false
	}
	for i, p := range r.prefix {
		if c.Args[i] != p {
			return false
		}
	}
	return true
}

// Run records the call and answers from the first matching rule.
func (f *FakeRunner) Run(ctx context.Context, c Cmd) (*Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)

	var rule *FakeRule
	for _, r := range f.rules {
		if r.matches(c) {
			rule = r
			break
		}
	}
	handler := f.Handler
	if rule == nil {
		f.mu.Unlock()
		if handler != nil {
			return handler(c)
		}
		return nil, fmt.Errorf("fake runner: no rule for %q", c.String())
	}

	if len(rule.outcomes) == 0 {
		f.mu.Unlock()
		return &Result{}, nil
	}
	idx := rule.next
	if idx >= len(rule.outcomes) {
		idx = len(rule.outcomes) - 1
	} else {
		rule.next++
	}
	out := rule.outcomes[idx]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if out.err != nil {
		return nil, out.err
	}
	res := &Result{Stdout: []byte(out.stdout), Stderr: []byte(out.stderr), ExitCode: out.code}
	if out.code != 0 {
		return res, &ExitError{Command: c.String(), ExitCode: out.code, Stderr: c.mask(out.stderr)}
	}
	return res, nil
}

// Calls returns every recorded command.
func (f *FakeRunner) Calls() []Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Cmd, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo returns recorded commands whose arguments start with argPrefix.
func (f *FakeRunner) CallsTo(name string, argPrefix ...string) []Cmd {
	probe := &FakeRule{name: name, prefix: argPrefix}
	var out []Cmd
	for _, c := range f.Calls() {
		if probe.matches(c) {
			out = append(out, c)
		}
	}
	return out
}

// Argv returns every recorded command line, unmasked, for leak assertions.
func (f *FakeRunner) Argv() string {
	var b strings.Builder
	for _, c := range f.Calls() {
		b.WriteString(c.Name)
		for _, a := range c.Args {
			b.WriteByte(' ')
			b.WriteString(a)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
