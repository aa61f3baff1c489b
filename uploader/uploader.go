// Package uploader periodically mirrors a rendition's local staging
// directory to its remote destination, skipping files that are still being
// written and files already uploaded.
package uploader

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/livepeer/catalyst-render/clients"
	"github.com/livepeer/catalyst-render/config"
	"github.com/livepeer/catalyst-render/executor"
	"github.com/livepeer/catalyst-render/log"
	"github.com/livepeer/catalyst-render/metrics"
)

var manifestSuffix = regexp.MustCompile(`\.m3u8$`)

// Uploader is a thread-style Controller node: it owns a local directory and
// a remote destination URL, and mirrors one into the other once per tick.
// transcodeCompleted flips to true when MarkTranscodeCompleted is called
// (Stop calls it before the final pass), at which point playlist files
// stop being skipped.
type Uploader struct {
	LocalDir  string
	RemoteURL string

	mu                 sync.Mutex
	transcodeCompleted bool
	uploading          bool
	loop               *executor.Loop
}

func New(localDir, remoteURL string) *Uploader {
	u := &Uploader{LocalDir: localDir, RemoteURL: remoteURL}
	u.loop = executor.NewLoop("uploader", u.tick, true)
	return u
}

// MarkTranscodeCompleted tells the Uploader the upstream node has finished;
// the next tick (and the final post_stop pass) will upload playlist files
// too.
func (u *Uploader) MarkTranscodeCompleted() {
	u.mu.Lock()
	u.transcodeCompleted = true
	u.mu.Unlock()
}

func (u *Uploader) Start() error { return u.loop.Start() }
func (u *Uploader) Stop(terminal executor.Status) {
	u.MarkTranscodeCompleted()
	u.loop.Stop(terminal)
}
func (u *Uploader) Status() executor.Status { return u.loop.Status() }

func (u *Uploader) isTranscodeCompleted() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.transcodeCompleted
}

// tick runs one upload pass. A reentrancy flag makes a tick that arrives
// before the previous one finishes a no-op, matching the original's
// is_uploading guard.
func (u *Uploader) tick(_ context.Context) error {
	u.mu.Lock()
	if u.uploading {
		u.mu.Unlock()
		return nil
	}
	u.uploading = true
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		u.uploading = false
		u.mu.Unlock()
	}()

	if isLocalDestination(u.RemoteURL) {
		return u.moveDirectory()
	}

	completed := u.isTranscodeCompleted()

	return filepath.Walk(u.LocalDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if u.shouldSkip(info.Name(), completed) {
			return nil
		}
		return u.uploadFile(path)
	})
}

// isLocalDestination reports whether url names a plain filesystem path
// rather than an object-store URL — for these, "upload" is a single
// atomic directory move rather than a per-file copy.
func isLocalDestination(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	return u.Scheme == "" || u.Scheme == "file"
}

// moveDirectory performs the local-destination upload path: one atomic
// rename of the whole staging directory onto the destination. Safe to call
// repeatedly — once the source directory is gone, later ticks see
// ErrNotExist and are no-ops.
func (u *Uploader) moveDirectory() error {
	localPath := u.RemoteURL
	if parsed, err := url.Parse(u.RemoteURL); err == nil && parsed.Scheme == "file" {
		localPath = parsed.Path
	}

	if _, err := os.Stat(u.LocalDir); os.IsNotExist(err) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("creating destination parent %s: %w", localPath, err)
	}
	if err := os.Rename(u.LocalDir, localPath); err != nil {
		return fmt.Errorf("moving %s to %s: %w", u.LocalDir, localPath, err)
	}
	return nil
}

func (u *Uploader) shouldSkip(name string, transcodeCompleted bool) bool {
	if strings.HasSuffix(name, ".tmp") {
		return true
	}
	if !transcodeCompleted && manifestSuffix.MatchString(name) {
		return true
	}
	return false
}

func (u *Uploader) uploadFile(path string) error {
	rel, err := filepath.Rel(u.LocalDir, path)
	if err != nil {
		return err
	}
	destURL := joinURL(u.RemoteURL, rel)

	exists, err := clients.Exists(destURL)
	if err != nil {
		log.LogNoRequestID("uploader: probing destination failed", "url", destURL, "err", err)
		return nil
	}
	if exists {
		return os.Remove(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if err := upload(u.RemoteURL, rel, f); err != nil {
		metrics.Metrics.UploadRetries.WithLabelValues(hostOf(destURL)).Inc()
		log.LogNoRequestID("uploader: upload failed, retrying next tick", "url", destURL, "err", err)
		return nil
	}
	return os.Remove(path)
}

// hostOf returns destURL's host for metric labels, falling back to the raw
// URL if it doesn't parse as one (e.g. a plain filesystem path).
func hostOf(destURL string) string {
	u, err := url.Parse(destURL)
	if err != nil || u.Host == "" {
		return destURL
	}
	return u.Host
}

func upload(destURL, filename string, r io.Reader) error {
	return clients.UploadToOSURL(destURL, filename, r, 0)
}

func joinURL(base, rel string) string {
	return strings.TrimRight(base, "/") + "/" + rel
}

// SaveText writes content to a fully-qualified remote URL in one shot; used
// by the Manifest Merger to publish master manifests.
func SaveText(url, content string) error {
	return clients.UploadToOSURL(url, "", strings.NewReader(content), config.SignedInputURLLifetime)
}
