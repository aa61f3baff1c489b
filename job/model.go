// Package job holds the Job/Output data model the core reads and writes,
// and the Store interface through which it is persisted. A reference
// in-memory Store is provided so the core is runnable and testable without
// an external database.
package job

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is shared by Job and Output.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusError      Status = "error"
)

// IsTerminal reports whether no further work will change this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusError:
		return true
	default:
		return false
	}
}

// Format names a streaming output format a Job's settings may request.
type Format string

const (
	FormatHLS      Format = "hls"
	FormatDASH     Format = "dash"
	FormatAdaptive Format = "adaptive"
	FormatMP4      Format = "mp4"
)

const (
	PlaylistVOD  = "vod"
	PlaylistLive = "live"
)

// AES128Encryption is the HLS AES-128 key descriptor: the hex-encoded key
// and the URL a player fetches it from.
type AES128Encryption struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// WidevineDRM carries the Shaka-packager Widevine key-server flags.
type WidevineDRM struct {
	KeyServerURL  string `json:"key_server_url"`
	ContentID     string `json:"content_id"`
	Signer        string `json:"signer"`
	AESSigningKey string `json:"aes_signing_key"`
	AESSigningIV  string `json:"aes_signing_iv"`
}

// FairPlayDRM is the raw-key FairPlay descriptor for HLS packaging.
type FairPlayDRM struct {
	Key    string `json:"key"`
	IV     string `json:"iv"`
	KeyURI string `json:"hls_key_uri"`
}

// FixedKeyDRM is the simpler fixed-key HLS packaging mode (no key server).
type FixedKeyDRM struct {
	Key    string `json:"key"`
	KeyID  string `json:"key_id"`
	KeyURI string `json:"hls_key_uri"`
}

// Encryption is the Job/Output-level encryption descriptor: either plain
// AES-128 for HLS, or a DRM block naming Widevine/FairPlay/FixedKey
// sub-blocks per target format.
type Encryption struct {
	AES128   *AES128Encryption `json:"aes128,omitempty"`
	Widevine *WidevineDRM      `json:"widevine,omitempty"`
	FairPlay *FairPlayDRM      `json:"fairplay,omitempty"`
	FixedKey *FixedKeyDRM      `json:"fixed_key,omitempty"`
}

// OutputSpec is the one-rendition video/audio/name block inside a
// RenditionSettings blob. Pipe and Input are carried through as given; the
// pipeline Controller does not set them, and passes its named-pipe paths
// to the command builders directly.
type OutputSpec struct {
	Name         string `json:"name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	VideoCodec   string `json:"video_codec,omitempty"`
	VideoBitrate int    `json:"video_bitrate,omitempty"`
	AudioCodec   string `json:"audio_codec,omitempty"`
	AudioBitrate int    `json:"audio_bitrate,omitempty"`
	Pipe         string `json:"pipe,omitempty"`
	Input        string `json:"input,omitempty"`
}

func (o OutputSpec) Resolution() string {
	return fmt.Sprintf("%dx%d", o.Width, o.Height)
}

// RenditionSettings is the in-memory object passed to a Controller: a deep
// copy of the parent Job's settings with exactly one Output substituted in.
type RenditionSettings struct {
	JobID         string      `json:"id"`
	Input         string      `json:"input"`
	Destination   string      `json:"destination"`
	FileName      string      `json:"file_name,omitempty"`
	Format        Format      `json:"format"`
	SegmentLength int         `json:"segment_length,omitempty"`
	PlaylistType  string      `json:"playlist_type,omitempty"`
	Output        OutputSpec  `json:"output"`
	Encryption    *Encryption `json:"encryption,omitempty"`
	Queue         string      `json:"queue,omitempty"`
}

// Clone deep-copies the settings blob. The Controller mutates only its own
// copy (format swaps, pipe allocation); callers must never share one
// RenditionSettings value across concurrent Controllers.
func (s RenditionSettings) Clone() RenditionSettings {
	out := s
	if s.Encryption != nil {
		enc := *s.Encryption
		if enc.AES128 != nil {
			v := *enc.AES128
			enc.AES128 = &v
		}
		if enc.Widevine != nil {
			v := *enc.Widevine
			enc.Widevine = &v
		}
		if enc.FairPlay != nil {
			v := *enc.FairPlay
			enc.FairPlay = &v
		}
		if enc.FixedKey != nil {
			v := *enc.FixedKey
			enc.FixedKey = &v
		}
		out.Encryption = &enc
	}
	return out
}

// Output is one target encoding of a Job.
type Output struct {
	ID               string
	JobID            string
	Name             string
	Settings         RenditionSettings
	Status           Status
	Progress         float64
	BackgroundTaskID string
	ErrorMessage     string
	StartTime        *time.Time
	EndTime          *time.Time
	CreatedAt        time.Time
}

func (o *Output) Resolution() string { return o.Settings.Output.Resolution() }

// Job is a transcoding request.
type Job struct {
	ID               string
	InputURL         string
	OutputURL        string
	TemplateName     string
	Settings         map[string]interface{}
	Encryption       *Encryption
	WebhookURL       string
	MetaData         map[string]string
	Progress         float64
	Status           Status
	StartTime        *time.Time
	EndTime          *time.Time
	BackgroundTaskID string
	Outputs          []*Output
}

// NewID generates an opaque unique identifier for a Job or Output.
func NewID() string {
	return uuid.NewString()
}

// UpdateProgress recomputes Job.progress as the arithmetic mean of its
// Outputs' progresses (P1).
func (j *Job) UpdateProgress() {
	if len(j.Outputs) == 0 {
		return
	}
	var sum float64
	for _, o := range j.Outputs {
		sum += o.Progress
	}
	j.Progress = sum / float64(len(j.Outputs))
}

// AllOutputsCompleted reports whether every sibling Output has reached
// Completed — the condition the Rendition Runner checks before running Job
// Completion.
func (j *Job) AllOutputsCompleted() bool {
	for _, o := range j.Outputs {
		if o.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Queue returns the worker queue name requested in free-form metadata, or
// the empty string for the default queue.
func (j *Job) Queue() string {
	return j.MetaData["queue"]
}
