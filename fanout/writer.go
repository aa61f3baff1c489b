// Package fanout implements the one-to-many named-pipe copier the
// Controller uses when a single transcode must feed more than one
// packager: it opens every output pipe for writing, then copies everything
// read from one input pipe to all of them.
package fanout

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/livepeer/catalyst-render/executor"
)

// Writer is a thread-style Executor: Start spawns the copy goroutine,
// Stop waits for it to drain and exit. It implements executor.Executor so
// a Controller can supervise it alongside process nodes.
type Writer struct {
	InputPipe   string
	OutputPipes []string

	mu     sync.Mutex
	status executor.Status
	done   chan struct{}
	err    error
}

func New(inputPipe string, outputPipes []string) *Writer {
	return &Writer{InputPipe: inputPipe, OutputPipes: outputPipes, status: executor.NotStarted}
}

func (w *Writer) Start() error {
	w.mu.Lock()
	w.status = executor.Running
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.run()
	return nil
}

func (w *Writer) run() {
	defer close(w.done)

	outs := make([]*os.File, 0, len(w.OutputPipes))
	for _, p := range w.OutputPipes {
		f, err := os.OpenFile(p, os.O_WRONLY, 0o600)
		if err != nil {
			w.fail(fmt.Errorf("opening output pipe %s: %w", p, err))
			return
		}
		outs = append(outs, f)
	}
	defer func() {
		for _, f := range outs {
			_ = f.Close()
		}
	}()

	in, err := os.OpenFile(w.InputPipe, os.O_RDONLY, 0o600)
	if err != nil {
		w.fail(fmt.Errorf("opening input pipe %s: %w", w.InputPipe, err))
		return
	}
	defer in.Close()

	writers := make([]io.Writer, len(outs))
	for i, f := range outs {
		writers[i] = f
	}
	dst := io.MultiWriter(writers...)

	if _, err := io.Copy(dst, in); err != nil {
		w.fail(fmt.Errorf("fan-out copy from %s: %w", w.InputPipe, err))
		return
	}

	w.mu.Lock()
	if w.status == executor.Running {
		w.status = executor.Finished
	}
	w.mu.Unlock()
}

func (w *Writer) fail(err error) {
	w.mu.Lock()
	w.err = err
	w.status = executor.Errored
	w.mu.Unlock()
}

func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Writer) Status() executor.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Stop waits for the copy goroutine to observe the input pipe closing.
// Fan-out has no independent shutdown signal beyond that — the Controller
// is responsible for stopping the upstream transcoder first so the input
// pipe's writer closes and this goroutine's io.Copy returns.
func (w *Writer) Stop(executor.Status) {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done != nil {
		<-done
	}
}
