package job

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/livepeer/catalyst-render/log"
)

// Preset is one named rendition inside a Template.
type Preset struct {
	Name         string `yaml:"name"`
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
	VideoCodec   string `yaml:"video_codec"`
	VideoBitrate int    `yaml:"video_bitrate"`
	AudioCodec   string `yaml:"audio_codec"`
	AudioBitrate int    `yaml:"audio_bitrate"`
}

// Template is a named, reusable bundle of rendition presets a Job
// submission can reference by name instead of listing Outputs inline.
type Template struct {
	Name          string   `yaml:"name"`
	Format        Format   `yaml:"format"`
	SegmentLength int      `yaml:"segment_length"`
	PlaylistType  string   `yaml:"playlist_type"`
	Presets       []Preset `yaml:"presets"`
}

// Outputs expands a Template's presets into RenditionSettings seeded with
// the given input/destination, one per preset.
func (t Template) Outputs(jobID, input, destination string) []RenditionSettings {
	out := make([]RenditionSettings, 0, len(t.Presets))
	for _, p := range t.Presets {
		out = append(out, RenditionSettings{
			JobID:         jobID,
			Input:         input,
			Destination:   destination,
			Format:        t.Format,
			SegmentLength: t.SegmentLength,
			PlaylistType:  t.PlaylistType,
			Output: OutputSpec{
				Name:         p.Name,
				Width:        p.Width,
				Height:       p.Height,
				VideoCodec:   p.VideoCodec,
				VideoBitrate: p.VideoBitrate,
				AudioCodec:   p.AudioCodec,
				AudioBitrate: p.AudioBitrate,
			},
		})
	}
	return out
}

type templateFile struct {
	Templates []Template `yaml:"templates"`
}

// TemplateStore holds the set of named Templates loaded from a YAML bundle
// file, reloading automatically when the file changes so edits don't
// require a worker restart.
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[string]Template
	watcher   *fsnotify.Watcher
}

// NewTemplateStore loads path once and, if watch is true, starts watching
// it for further changes until Close is called.
func NewTemplateStore(path string, watch bool) (*TemplateStore, error) {
	s := &TemplateStore{templates: map[string]Template{}}
	if path == "" {
		return s, nil
	}
	if err := s.load(path); err != nil {
		return nil, err
	}
	if watch {
		if err := s.watch(path); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *TemplateStore) load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading template file %s: %w", path, err)
	}
	var parsed templateFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parsing template file %s: %w", path, err)
	}

	templates := make(map[string]Template, len(parsed.Templates))
	for _, t := range parsed.Templates {
		templates[t.Name] = t
	}

	s.mu.Lock()
	s.templates = templates
	s.mu.Unlock()
	return nil
}

func (s *TemplateStore) watch(path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting template watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return fmt.Errorf("watching template file %s: %w", path, err)
	}
	s.watcher = w

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.load(path); err != nil {
					log.LogNoRequestID("reloading job templates", "err", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.LogNoRequestID("template watcher error", "err", err)
			}
		}
	}()
	return nil
}

func (s *TemplateStore) Get(name string) (Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[name]
	return t, ok
}

func (s *TemplateStore) Close() error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Close()
}
