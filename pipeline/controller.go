// Package pipeline implements the Controller: given one rendition's
// settings, it assembles and supervises the cooperating executor nodes
// (transcoder, optional packagers, optional fan-out writer, uploaders)
// needed to produce that rendition's output.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/livepeer/catalyst-render/config"
	"github.com/livepeer/catalyst-render/executor"
	"github.com/livepeer/catalyst-render/fanout"
	"github.com/livepeer/catalyst-render/ffmpegproc"
	"github.com/livepeer/catalyst-render/job"
	"github.com/livepeer/catalyst-render/metrics"
	"github.com/livepeer/catalyst-render/packager"
	"github.com/livepeer/catalyst-render/progress"
	"github.com/livepeer/catalyst-render/subprocess"
	"github.com/livepeer/catalyst-render/uploader"
)

const (
	hlsSuffix  = "_hls"
	dashSuffix = "_dash"
)

// Controller is the per-rendition execution graph described by spec.md
// §4.6: a set of executor.Executor nodes whose aggregate status is the
// max of its members under Running < Finished < Errored.
type Controller struct {
	mu      sync.Mutex
	started bool
	nodes   []executor.Executor
	tempDir string

	Bus *progress.Bus
}

func New() *Controller {
	return &Controller{Bus: progress.NewBus()}
}

// Start assembles and starts every node needed for settings. progressCallback
// is invoked on every progress event from the transcoder's log parser.
func (c *Controller) Start(settings job.RenditionSettings, progressCallback func(float64)) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("controller already started")
	}
	c.started = true
	c.mu.Unlock()

	if progressCallback != nil {
		c.Bus.Subscribe(progress.ProgressEvent, func(e progress.Event) {
			progressCallback(e.Data.(float64))
		})
	}

	localDir := filepath.Join(config.TranscodedRoot, settings.JobID, settings.Output.Name)
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return fmt.Errorf("creating staging directory %s: %w", localDir, err)
	}

	if !packager.Needed(settings) {
		return c.startUnpackaged(settings, localDir)
	}
	return c.startPackaged(settings, localDir)
}

func (c *Controller) startUnpackaged(settings job.RenditionSettings, localDir string) error {
	parser := progress.NewParser()
	c.Bus.Attach(parser)

	proc := executor.NewProcess("transcoder", func() ([]string, error) {
		return ffmpegproc.Generate(settings, localDir)
	})
	proc.Stderr = subprocess.NewStderrTee(parser)

	up := uploader.New(localDir, renditionDestination(settings))

	c.nodes = append(c.nodes, up, executor.NewPolitelyWait(proc))
	return c.startAll()
}

// renditionDestination is <destination>/<rendition_name>: the remote
// counterpart of localDir, matching the on-disk layout's
// <transcoded_root>/<job_id>/<rendition>/ convention.
func renditionDestination(settings job.RenditionSettings) string {
	return strings.TrimSuffix(settings.Destination, "/") + "/" + settings.Output.Name
}

func (c *Controller) startPackaged(settings job.RenditionSettings, localDir string) error {
	if runtime.GOOS == "windows" {
		return fmt.Errorf("platform not supported: named pipes require a POSIX host")
	}

	tempDir, err := os.MkdirTemp("", "catalyst-render-")
	if err != nil {
		return fmt.Errorf("creating pipe directory: %w", err)
	}
	c.tempDir = tempDir

	p0 := filepath.Join(tempDir, "p0")
	if err := syscall.Mkfifo(p0, 0o600); err != nil {
		return fmt.Errorf("creating named pipe %s: %w", p0, err)
	}

	wantsHLS := settings.Format == job.FormatHLS || settings.Format == job.FormatAdaptive
	wantsDASH := settings.Format == job.FormatDASH || settings.Format == job.FormatAdaptive
	needsFanout := wantsHLS && wantsDASH

	var fanoutPipes []string

	if wantsHLS {
		hlsIn := p0
		if needsFanout {
			hlsIn, err = c.allocatePipe(tempDir, "hls")
			if err != nil {
				return err
			}
			fanoutPipes = append(fanoutPipes, hlsIn)
		}
		if err := c.addPackagerNode(settings, job.FormatHLS, hlsIn, localDir, hlsSuffix); err != nil {
			return err
		}
	}

	if wantsDASH {
		dashIn := p0
		if needsFanout {
			dashIn, err = c.allocatePipe(tempDir, "dash")
			if err != nil {
				return err
			}
			fanoutPipes = append(fanoutPipes, dashIn)
		}
		if err := c.addPackagerNode(settings, job.FormatDASH, dashIn, localDir, dashSuffix); err != nil {
			return err
		}
	}

	parser := progress.NewParser()
	c.Bus.Attach(parser)

	proc := executor.NewProcess("transcoder", func() ([]string, error) {
		return ffmpegproc.GenerateToPipe(settings, p0)
	})
	proc.Stderr = subprocess.NewStderrTee(parser)
	c.nodes = append(c.nodes, executor.NewPolitelyWait(proc))

	if needsFanout {
		// Appended last for readability only: startAll starts every node
		// concurrently, and Process.Start only forks the child and returns,
		// never blocking on the named pipe's open(2).
		c.nodes = append(c.nodes, fanout.New(p0, fanoutPipes))
	}

	return c.startAll()
}

func (c *Controller) allocatePipe(dir, suffix string) (string, error) {
	p := filepath.Join(dir, fmt.Sprintf("p_%s_%s", suffix, uuid.NewString()))
	if err := syscall.Mkfifo(p, 0o600); err != nil {
		return "", fmt.Errorf("creating named pipe %s: %w", p, err)
	}
	return p, nil
}

func (c *Controller) addPackagerNode(settings job.RenditionSettings, format job.Format, in, localDir, suffix string) error {
	packageDir := localDir + suffix
	if err := os.MkdirAll(packageDir, 0o755); err != nil {
		return fmt.Errorf("creating package directory %s: %w", packageDir, err)
	}

	formatSettings := settings.Clone()
	formatSettings.Format = format

	proc := executor.NewProcess("packager-"+suffix, func() ([]string, error) {
		return packager.Generate(formatSettings, in, packageDir), nil
	})
	up := uploader.New(packageDir, renditionDestination(settings)+suffix)

	c.nodes = append(c.nodes, up, executor.NewPolitelyWait(proc))
	return nil
}

// startAll starts every node added so far concurrently — Start only forks
// a child or spawns a supervisory goroutine, so there's no ordering
// dependency between nodes to preserve — and tears every node back down if
// any of them fails to start.
func (c *Controller) startAll() error {
	var g errgroup.Group
	for _, n := range c.nodes {
		n := n
		g.Go(n.Start)
	}
	if err := g.Wait(); err != nil {
		var stopGroup errgroup.Group
		for _, n := range c.nodes {
			n := n
			stopGroup.Go(func() error {
				n.Stop(executor.Errored)
				return nil
			})
		}
		_ = stopGroup.Wait()
		return err
	}
	return nil
}

// Status returns the aggregate status: the max of every node's status
// under Running < Finished < Errored. An empty node set is Finished.
func (c *Controller) Status() executor.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := executor.Finished
	for _, n := range c.nodes {
		if n.Status() > status {
			status = n.Status()
		}
	}
	return status
}

// IsCompleted reports whether no member node is still Running.
func (c *Controller) IsCompleted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		if n.Status() == executor.Running {
			return false
		}
	}
	return true
}

// Stop captures the current aggregate status and stops every node with it
// (so PolitelyWait nodes wait iff the group is Finished), then clears the
// node list and removes the named-pipe temp directory. Safe to call more
// than once: stopping an already-stopped controller is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	if len(c.nodes) == 0 && c.tempDir == "" {
		c.mu.Unlock()
		return
	}
	nodes := c.nodes
	c.nodes = nil
	tempDir := c.tempDir
	c.tempDir = ""
	c.mu.Unlock()

	terminal := executor.Finished
	for _, n := range nodes {
		if n.Status() > terminal {
			terminal = n.Status()
		}
	}

	var g errgroup.Group
	for _, n := range nodes {
		n := n
		g.Go(func() error {
			n.Stop(terminal)
			return nil
		})
	}
	_ = g.Wait()

	for _, n := range nodes {
		metrics.Metrics.NodeStatus.WithLabelValues(nodeKind(n), n.Status().String()).Inc()
	}

	if tempDir != "" {
		_ = os.RemoveAll(tempDir)
	}
}

// Close always calls Stop, matching the original's context-manager exit.
func (c *Controller) Close() {
	c.Stop()
}

// nodeKind labels a member node for the controller_node_status_total
// metric. executor.Process/PolitelyWait nodes carry their own Name
// ("transcoder", "packager-_hls", ...); the remaining node types are named
// by their package.
func nodeKind(n executor.Executor) string {
	switch v := n.(type) {
	case *executor.PolitelyWait:
		return v.Process.Name
	case *executor.Process:
		return v.Name
	case *uploader.Uploader:
		return "uploader"
	case *fanout.Writer:
		return "fanout"
	default:
		return "unknown"
	}
}
