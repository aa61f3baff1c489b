package ffmpegproc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livepeer/catalyst-render/job"
)

func TestGenerateHLSBasic(t *testing.T) {
	dir := t.TempDir()
	settings := job.RenditionSettings{
		Input:  "/in/source.mp4",
		Format: job.FormatHLS,
		Output: job.OutputSpec{Name: "720p", Width: 1280, Height: 720, VideoBitrate: 1500000},
	}
	args, err := Generate(settings, dir)
	require.NoError(t, err)

	require.Equal(t, "ffmpeg", args[0])
	require.Contains(t, args, "-i")
	require.Contains(t, args, "/in/source.mp4")
	require.Contains(t, args, "-c:v")
	require.Contains(t, args, DefaultVideoCodec)
	require.Contains(t, args, "-s")
	require.Contains(t, args, "1280x720")
	require.Contains(t, args, "-f")
	require.Contains(t, args, "hls")
	require.Equal(t, filepath.Join(dir, "video.m3u8"), args[len(args)-1])
}

func TestGenerateHTTPInputAddsReconnectFlags(t *testing.T) {
	settings := job.RenditionSettings{
		Input:  "https://example.com/in.mp4",
		Format: job.FormatMP4,
		Output: job.OutputSpec{Name: "out"},
	}
	args, err := Generate(settings, t.TempDir())
	require.NoError(t, err)
	require.Contains(t, args, "-reconnect")
}

func TestGenerateWritesKeyInfoFileForAES128(t *testing.T) {
	dir := t.TempDir()
	settings := job.RenditionSettings{
		Input:         "/in.mp4",
		Format:        job.FormatHLS,
		SegmentLength: 6,
		Output:        job.OutputSpec{Name: "480p"},
		Encryption: &job.Encryption{
			AES128: &job.AES128Encryption{Key: "00112233445566778899aabbccddeeff0", URL: "https://keys/1"},
		},
	}
	// use an even-length hex key
	settings.Encryption.AES128.Key = "00112233445566778899aabbccddeeff"[:32]

	args, err := Generate(settings, dir)
	require.NoError(t, err)
	require.Contains(t, args, "-hls_key_info_file")

	keyInfoPath := filepath.Join(dir, "..", "key", "enc.keyinfo")
	data, err := os.ReadFile(keyInfoPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "https://keys/1")

	keyPath := filepath.Join(dir, "..", "key", "enc.key")
	_, err = os.Stat(keyPath)
	require.NoError(t, err)
}

func TestGenerateMP4DefaultFileName(t *testing.T) {
	dir := t.TempDir()
	settings := job.RenditionSettings{
		Input:  "/in.mp4",
		Format: job.FormatMP4,
		Output: job.OutputSpec{Name: "out"},
	}
	args, err := Generate(settings, dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "video.mp4"), args[len(args)-1])
}

func TestGenerateToPipeUsesMpegTS(t *testing.T) {
	settings := job.RenditionSettings{
		Input:  "/in.mp4",
		Format: job.FormatAdaptive,
		Output: job.OutputSpec{Name: "720p"},
	}
	args, err := GenerateToPipe(settings, "/tmp/pipe0")
	require.NoError(t, err)
	require.Contains(t, args, "mpegts")
	require.Equal(t, "/tmp/pipe0", args[len(args)-1])
}
