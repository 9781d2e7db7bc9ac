package progrock

import (
	"fmt"
	"sync"
	"time"

	"github.com/muesli/termenv"
	"github.com/vito/progrock"
	"go.trai.ch/kiln/internal/ui/style"
)

var _ progrock.Writer = (*Feed)(nil)

// Feed consumes progrock status updates and prints one line per target that
// finished running, with its duration. Cached vertices are not printed.
type Feed struct {
	out *termenv.Output

	mu      sync.Mutex
	running map[string]time.Time
}

// NewFeed creates a Feed printing to out.
func NewFeed(out *termenv.Output) *Feed {
	return &Feed{
		out:     out,
		running: make(map[string]time.Time),
	}
}

// WriteStatus implements progrock.Writer.
func (f *Feed) WriteStatus(update *progrock.StatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, v := range update.GetVertexes() {
		id := v.GetId()
		if v.GetCompleted() == nil {
			if _, ok := f.running[id]; !ok {
				f.running[id] = v.GetStarted().AsTime()
			}
			continue
		}

		started, ok := f.running[id]
		if !ok {
			continue
		}
		delete(f.running, id)
		if v.GetCached() {
			continue
		}

		took := v.GetCompleted().AsTime().Sub(started).Round(time.Millisecond)
		switch {
		case v.GetCanceled():
			f.line(style.Yellow, fmt.Sprintf("%s %s interrupted after %s", style.Warning, v.GetName(), took))
		case v.GetError() != "":
			f.line(style.Red, fmt.Sprintf("%s %s failed after %s", style.Cross, v.GetName(), took))
		default:
			f.line(style.Green, fmt.Sprintf("%s %s %s", style.Check, v.GetName(), took))
		}
	}
	return nil
}

// Close implements progrock.Writer.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.running)
	return nil
}

func (f *Feed) line(c style.Color, s string) {
	_, _ = fmt.Fprintln(f.out, f.out.String(s).Foreground(f.out.Color(string(c))).String())
}
