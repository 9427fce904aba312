package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/oceanhydro/hydrodl/internal/constants"
	"github.com/oceanhydro/hydrodl/internal/events"
	"github.com/oceanhydro/hydrodl/internal/models"
	"github.com/oceanhydro/hydrodl/internal/util/humansize"
	stringutil "github.com/oceanhydro/hydrodl/internal/util/strings"
)

const labelWidth = 42

// Board shows one bar per job, driven by engine events. Without a
// terminal it prints a line per stage change instead.
type Board struct {
	progress   *mpb.Progress
	out        io.Writer
	isTerminal bool

	mu   sync.Mutex
	bars map[string]*jobBar

	done    chan struct{}
	summary *events.RunCompleteEvent
}

type jobBar struct {
	bar    *mpb.Bar
	key    string
	status atomic.Value // string
	stage  string
	total  int
	bytes  int64
}

// NewBoard creates a board writing to f. Bars are only drawn when f is a
// terminal.
func NewBoard(f *os.File) *Board {
	isTerminal := term.IsTerminal(int(f.Fd()))
	if isTerminal {
		enableANSI(f)
	}
	return newBoard(f, isTerminal)
}

func newBoard(out io.Writer, isTerminal bool) *Board {
	b := &Board{
		out:        out,
		isTerminal: isTerminal,
		bars:       make(map[string]*jobBar),
		done:       make(chan struct{}),
	}
	if isTerminal {
		b.progress = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(constants.ProgressRefreshInterval),
			mpb.WithWidth(100),
		)
	}
	return b
}

// Follow consumes events until a RunCompleteEvent arrives or ch is closed.
func (b *Board) Follow(ch <-chan events.Event) {
	go func() {
		defer close(b.done)
		for ev := range ch {
			if b.handle(ev) {
				return
			}
		}
	}()
}

// Wait blocks until Follow has finished and every bar is rendered. It
// returns the run summary, or nil if none was received.
func (b *Board) Wait() *events.RunCompleteEvent {
	<-b.done
	if b.progress != nil {
		b.mu.Lock()
		for _, jb := range b.bars {
			if !jb.bar.Completed() {
				jb.bar.Abort(false)
			}
		}
		b.mu.Unlock()
		b.progress.Wait()
	}
	return b.summary
}

// Writer returns a writer that prints above the bars.
func (b *Board) Writer() io.Writer {
	if b.progress != nil {
		return b.progress
	}
	return b.out
}

// IsTerminal reports whether bars are drawn.
func (b *Board) IsTerminal() bool {
	return b.isTerminal
}

// handle applies one event and reports whether the run is over.
func (b *Board) handle(ev events.Event) bool {
	switch e := ev.(type) {
	case *events.JobStateEvent:
		b.onJobState(e)
	case *events.FileEvent:
		b.onFile(e)
	case *events.RunCompleteEvent:
		b.summary = e
		return true
	}
	return false
}

func (b *Board) onJobState(e *events.JobStateEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	jb := b.barFor(e.JobKey)
	jb.stage = e.Stage
	if e.ExpectedFiles > 0 && e.ExpectedFiles != jb.total {
		jb.total = e.ExpectedFiles
		if jb.bar != nil {
			jb.bar.SetTotal(int64(jb.total), false)
		}
	}

	status := e.Status
	if e.Message != "" {
		status += " (" + e.Message + ")"
	}
	jb.status.Store(e.Stage + ": " + status)

	if e.Stage != events.StageDone {
		if !b.isTerminal {
			fmt.Fprintf(b.out, "%s: %s %s\n", e.JobKey, e.Stage, e.Status)
		}
		return
	}

	if jb.bar != nil {
		if e.Status == models.OutcomeFailed.String() {
			jb.bar.Abort(false)
		} else {
			jb.bar.SetTotal(-1, true)
		}
		return
	}
	line := fmt.Sprintf("%s: %s", e.JobKey, e.Status)
	if e.Message != "" {
		line += " (" + e.Message + ")"
	}
	if jb.bytes > 0 {
		line += ", " + humansize.Format(jb.bytes)
	}
	fmt.Fprintln(b.out, line)
}

func (b *Board) onFile(e *events.FileEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	jb := b.barFor(e.JobKey)
	jb.bytes += e.Bytes
	if jb.bar != nil {
		if e.Total > 0 && e.Total != jb.total {
			jb.total = e.Total
			jb.bar.SetTotal(int64(jb.total), false)
		}
		jb.bar.SetCurrent(int64(e.Done))
		if e.State == "failed" {
			fmt.Fprintf(b.progress, "✗ %s: %s\n", e.JobKey, e.Filename)
		}
		return
	}
	if e.State == "failed" {
		fmt.Fprintf(b.out, "%s: failed %s\n", e.JobKey, e.Filename)
	}
}

// barFor returns the bar for key, creating it on first use. Caller holds mu.
func (b *Board) barFor(key string) *jobBar {
	if jb, ok := b.bars[key]; ok {
		return jb
	}
	jb := &jobBar{key: key}
	jb.status.Store("")
	if b.progress != nil {
		label := stringutil.Truncate(key, labelWidth)
		jb.bar = b.progress.New(0,
			mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
			mpb.PrependDecorators(
				decor.Name(label, decor.WC{W: labelWidth, C: decor.DindentRight}),
				decor.CountersNoUnit("%d/%d", decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.Any(func(decor.Statistics) string {
					return jb.status.Load().(string)
				}, decor.WCSyncSpace),
			),
		)
	}
	b.bars[key] = jb
	return jb
}

// shortPath keeps the last n components of path for display.
func shortPath(path string, n int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= n {
		return filepath.Base(path)
	}
	return "…/" + strings.Join(parts[len(parts)-n:], "/")
}
