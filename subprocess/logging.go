// Package subprocess adapts a transcoder child's stderr for the Controller:
// ffmpeg reports Duration/time progress and "Opening ... for writing"
// notifications on stderr, not stdout, and an operator watching the worker's
// own logs still wants to see that output live.
package subprocess

import (
	"os"

	"github.com/livepeer/catalyst-render/progress"
)

// StderrTee is an io.Writer meant for an executor.Process's Stderr field. It
// reassembles the child's arbitrarily-chunked writes into whole lines, echoes
// each line to the worker's own stderr for live debugging, and feeds it to
// parser so the Controller's progress.Bus keeps tracking completion.
type StderrTee struct {
	lines *progress.LineWriter
}

// NewStderrTee returns a StderrTee that feeds parser.
func NewStderrTee(parser *progress.Parser) *StderrTee {
	t := &StderrTee{}
	t.lines = progress.NewLineWriter(func(line string) {
		_, _ = os.Stderr.WriteString(line + "\n")
		parser.Feed(line)
	})
	return t
}

func (t *StderrTee) Write(p []byte) (int, error) {
	return t.lines.Write(p)
}
