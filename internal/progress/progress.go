// Package progress renders download progress on the terminal: a board of
// job bars for product runs and a single file counter for archive
// downloads. Both are fed from the engine's event bus.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/oceanhydro/hydrodl/internal/events"
)

// Reporter is a single counter advanced as files complete.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
	SetDescription(desc string)
}

// NewReporter returns a CLIProgress on a terminal and a NoOpProgress otherwise.
func NewReporter(f *os.File) Reporter {
	if !term.IsTerminal(int(f.Fd())) {
		return NewNoOpProgress()
	}
	enableANSI(f)
	return NewCLIProgress(f)
}

// CLIProgress implements Reporter with a progressbar.
type CLIProgress struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

// NewCLIProgress creates a reporter writing to out.
func NewCLIProgress(out io.Writer) *CLIProgress {
	return &CLIProgress{out: out}
}

// Start replaces any previous bar with a new one counting to total files.
func (p *CLIProgress) Start(total int64, description string) {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.out, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update moves the bar to current.
func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}

// Error prints err below the bar.
func (p *CLIProgress) Error(err error) {
	if err != nil {
		fmt.Fprintf(p.out, "\nError: %v\n", err)
	}
}

// SetDescription updates the bar description.
func (p *CLIProgress) SetDescription(desc string) {
	if p.bar != nil {
		p.bar.Describe(desc)
	}
}

// NoOpProgress discards everything.
type NoOpProgress struct{}

func NewNoOpProgress() *NoOpProgress { return &NoOpProgress{} }

func (p *NoOpProgress) Start(total int64, description string) {}
func (p *NoOpProgress) Update(current int64)                  {}
func (p *NoOpProgress) Finish()                               {}
func (p *NoOpProgress) Error(err error)                       {}
func (p *NoOpProgress) SetDescription(desc string)            {}

// TrackFiles drives r from the file events on ch, starting a new count
// whenever the job key changes. outDir is shown in the description. The
// returned channel is closed once a RunCompleteEvent arrives or ch closes.
func TrackFiles(ch <-chan events.Event, r Reporter, outDir string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		var current string
		for ev := range ch {
			switch e := ev.(type) {
			case *events.FileEvent:
				if e.JobKey != current {
					if current != "" {
						r.Finish()
					}
					current = e.JobKey
					r.Start(int64(e.Total), fmt.Sprintf("%s → %s", e.JobKey, shortPath(outDir, 2)))
				}
				r.Update(int64(e.Done))
				if e.State == "failed" {
					r.Error(fmt.Errorf("%s: download failed", e.Filename))
				}
			case *events.RunCompleteEvent:
				if current != "" {
					r.Finish()
				}
				return
			}
		}
		if current != "" {
			r.Finish()
		}
	}()
	return done
}
