package job

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleTemplates = `
templates:
  - name: standard_hls
    format: hls
    segment_length: 6
    playlist_type: vod
    presets:
      - name: "720p"
        width: 1280
        height: 720
        video_codec: h264
        video_bitrate: 2500000
        audio_codec: aac
        audio_bitrate: 128000
      - name: "360p"
        width: 640
        height: 360
        video_codec: h264
        video_bitrate: 800000
`

func writeTemplateFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestTemplateStoreLoadsAndExpandsPresets(t *testing.T) {
	path := writeTemplateFile(t, sampleTemplates)
	store, err := NewTemplateStore(path, false)
	require.NoError(t, err)
	defer store.Close()

	tmpl, ok := store.Get("standard_hls")
	require.True(t, ok)
	require.Equal(t, FormatHLS, tmpl.Format)
	require.Len(t, tmpl.Presets, 2)

	outputs := tmpl.Outputs("job-1", "in.mp4", "s3://bucket/out")
	require.Len(t, outputs, 2)
	require.Equal(t, "720p", outputs[0].Output.Name)
	require.Equal(t, "in.mp4", outputs[0].Input)
	require.Equal(t, 6, outputs[1].SegmentLength)
}

func TestTemplateStoreMissingNameNotFound(t *testing.T) {
	path := writeTemplateFile(t, sampleTemplates)
	store, err := NewTemplateStore(path, false)
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.Get("nonexistent")
	require.False(t, ok)
}

func TestTemplateStoreReloadsOnWrite(t *testing.T) {
	path := writeTemplateFile(t, sampleTemplates)
	store, err := NewTemplateStore(path, true)
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.Get("extra")
	require.False(t, ok)

	updated := sampleTemplates + `
  - name: extra
    format: mp4
    presets:
      - name: "480p"
        width: 854
        height: 480
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	require.Eventually(t, func() bool {
		_, ok := store.Get("extra")
		return ok
	}, 2*time.Second, 20*time.Millisecond)
}
