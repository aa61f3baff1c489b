// Package manifest implements the Manifest Merger: once every sibling
// Output of a Job has completed, the per-format mergers below combine the
// per-rendition manifests into master manifests at the job's destination:
// the ffmpeg-HLS merger alone when no rendition is packaged, otherwise the
// DASH merger, the packager-HLS merger, or both for an adaptive job.
package manifest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/grafov/m3u8"
	"golang.org/x/sync/singleflight"

	"github.com/livepeer/catalyst-render/clients"
	"github.com/livepeer/catalyst-render/job"
	"github.com/livepeer/catalyst-render/metrics"
	"github.com/livepeer/catalyst-render/packager"
	"github.com/livepeer/catalyst-render/uploader"
)

const (
	hlsSuffix  = "_hls"
	dashSuffix = "_dash"

	hlsFileName  = "video.m3u8"
	dashFileName = "video.mpd"
)

// Merger runs the Manifest Merger once per job. A singleflight.Group
// collapses concurrent attempts from racing sibling Runners into one
// in-flight merge per job id — on top of, not instead of, the per-job
// lock the Rendition Runner already holds while deciding it is the last
// sibling to finish.
type Merger struct {
	group singleflight.Group
}

func New() *Merger {
	return &Merger{}
}

// Merge runs every manifest path the job's settings require and publishes
// the resulting master manifest(s) to the job's destination.
func (m *Merger) Merge(j *job.Job) error {
	_, err, _ := m.group.Do(j.ID, func() (interface{}, error) {
		return nil, m.merge(j)
	})
	return err
}

func (m *Merger) merge(j *job.Job) error {
	usesPackager := false
	for _, o := range j.Outputs {
		if packager.Needed(o.Settings) {
			usesPackager = true
			break
		}
	}

	if !usesPackager {
		metrics.Metrics.ManifestMerges.WithLabelValues("hls_ffmpeg").Inc()
		return mergeHLSFFmpeg(j)
	}

	format := j.Settings["format"]
	wantsDASH := format == string(job.FormatDASH) || format == string(job.FormatAdaptive)
	wantsHLS := format == string(job.FormatHLS) || format == string(job.FormatAdaptive)

	if wantsDASH {
		metrics.Metrics.ManifestMerges.WithLabelValues("dash").Inc()
		if err := mergeDASH(j); err != nil {
			return fmt.Errorf("merging dash manifest: %w", err)
		}
	}
	if wantsHLS {
		metrics.Metrics.ManifestMerges.WithLabelValues("hls_packager").Inc()
		if err := mergeHLSPackager(j); err != nil {
			return fmt.Errorf("merging hls manifest: %w", err)
		}
	}
	return nil
}

func orderedOutputs(j *job.Job) []*job.Output {
	outs := make([]*job.Output, len(j.Outputs))
	copy(outs, j.Outputs)
	sort.Slice(outs, func(a, b int) bool {
		return outs[a].CreatedAt.Before(outs[b].CreatedAt)
	})
	return outs
}

func destination(j *job.Job) string {
	return strings.TrimSuffix(j.OutputURL, "/")
}

func renditionPath(o *job.Output, suffix string) string {
	return o.Name + suffix + "/"
}

// mergeHLSFFmpeg builds the byte-exact master playlist for the plain
// ffmpeg HLS path: one #EXT-X-STREAM-INF entry per Output, in creation
// order, pointing at that Output's own video.m3u8.
func mergeHLSFFmpeg(j *job.Job) error {
	return uploader.SaveText(destination(j)+"/"+hlsFileName, buildHLSFFmpegManifest(j))
}

func buildHLSFFmpegManifest(j *job.Job) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")

	for _, o := range orderedOutputs(j) {
		b.WriteString(fmt.Sprintf(
			"#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s\n%s/%s\n\n",
			o.Settings.Output.VideoBitrate, o.Resolution(), o.Name, hlsFileName,
		))
	}
	return b.String()
}

// mergeHLSPackager downloads each Output's packager-produced master
// playlist, rewrites its variant URIs to be relative to the job's
// destination, and republishes one combined master playlist.
func mergeHLSPackager(j *job.Job) error {
	outputs := orderedOutputs(j)
	if len(outputs) == 0 {
		return fmt.Errorf("no outputs to merge")
	}

	combined := m3u8.NewMasterPlaylist()

	for _, o := range outputs {
		path := renditionPath(o, hlsSuffix)
		manifestURL := destination(j) + "/" + path + hlsFileName

		playlist, listType, err := downloadM3U8(manifestURL)
		if err != nil {
			return fmt.Errorf("downloading %s: %w", manifestURL, err)
		}
		if listType != m3u8.MASTER {
			return fmt.Errorf("%s is not a master playlist", manifestURL)
		}
		master, ok := playlist.(*m3u8.MasterPlaylist)
		if !ok {
			return fmt.Errorf("%s did not decode as a master playlist", manifestURL)
		}

		for _, variant := range master.Variants {
			if variant == nil {
				break
			}
			variant.URI = path + variant.URI
			combined.Append(variant.URI, variant.Chunklist, variant.VariantParams)
		}
	}

	return uploader.SaveText(destination(j)+"/"+hlsFileName, combined.String())
}

func downloadM3U8(osURL string) (m3u8.Playlist, m3u8.ListType, error) {
	rc, err := clients.DownloadOSURL(osURL)
	if err != nil {
		return nil, 0, err
	}
	defer rc.Close()
	return m3u8.DecodeFrom(rc, true)
}
