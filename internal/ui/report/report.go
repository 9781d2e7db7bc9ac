// Package report prints the outcome of a build.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/muesli/termenv"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/ui/output"
	"go.trai.ch/kiln/internal/ui/style"
)

// Printer writes build reports to a terminal.
type Printer struct {
	out *termenv.Output
}

// New returns a Printer writing to w with the terminal's color profile.
func New(w io.Writer) *Printer {
	return &Printer{out: output.New(w)}
}

// NewPlain returns a Printer that never emits escape sequences.
func NewPlain(w io.Writer) *Printer {
	return &Printer{out: output.NewWithProfile(w, output.PlainProfile)}
}

// Print writes the failed targets with their exit codes and stderr tails,
// then the targets skipped because of them, then a one-line summary.
func (p *Printer) Print(r *domain.Report) {
	for _, o := range r.Failed() {
		p.failure(o)
	}

	skipped := r.Skipped()
	if len(skipped) > 0 {
		p.line(style.Slate, fmt.Sprintf("%s skipped because a dependency failed:", style.Tilde))
		for _, o := range skipped {
			p.line(style.Slate, fmt.Sprintf("    %s (blocked by %s)", o.Target, o.BlockedBy))
		}
	}

	p.summary(r, len(skipped))
}

func (p *Printer) failure(o domain.Outcome) {
	head := fmt.Sprintf("%s %s", style.Cross, o.Target)
	switch {
	case o.Command != "" && o.ExitCode != 0:
		head += fmt.Sprintf(" (exit %d)", o.ExitCode)
	case o.Err != nil:
		head += ": " + o.Err.Error()
	}
	p.line(style.Red, head)

	if o.Command != "" {
		p.line(style.Slate, "    $ "+o.Command)
	}
	for _, l := range o.StderrTail {
		p.writeln("    " + l)
	}
}

func (p *Printer) summary(r *domain.Report, skipped int) {
	updated := len(r.Updated())
	kept := len(r.Kept())
	failed := len(r.Failed())

	parts := []string{
		fmt.Sprintf("%d updated", updated),
		fmt.Sprintf("%d up to date", kept),
	}
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", failed))
	}
	if skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", skipped))
	}
	counts := strings.Join(parts, ", ")
	took := r.Duration.Round(time.Millisecond)

	if !r.OK() {
		p.line(style.Red, fmt.Sprintf("%s %s failed: %s in %v", style.Cross, r.Root, counts, took))
		return
	}
	if updated == 0 {
		p.line(style.Green, fmt.Sprintf("%s %s is up to date", style.Check, r.Root))
		return
	}
	p.line(style.Green, fmt.Sprintf("%s built %s: %s in %v", style.Check, r.Root, counts, took))
}

func (p *Printer) line(c style.Color, s string) {
	p.writeln(p.out.String(s).Foreground(p.out.Color(string(c))).String())
}

func (p *Printer) writeln(s string) {
	_, _ = fmt.Fprintln(p.out, s)
}
