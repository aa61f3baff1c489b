// Package ffmpegproc synthesizes the ffmpeg argv for one rendition from its
// settings, and materialises the HLS AES-128 key-info file when requested.
package ffmpegproc

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/livepeer/catalyst-render/clients"
	"github.com/livepeer/catalyst-render/config"
	"github.com/livepeer/catalyst-render/job"
)

const (
	DefaultVideoCodec = "h264"
	DefaultAudioCodec = "aac"
	DefaultPreset     = "fast"

	maxMuxingQueueSize = 9999
)

// Generate builds the full ffmpeg argv for one rendition, writing any
// supporting files (the HLS key-info file) as a side effect. localDir is the
// rendition's staging directory, e.g. <transcoded_root>/<job>/<rendition>.
func Generate(settings job.RenditionSettings, localDir string) ([]string, error) {
	args := []string{config.TranscoderBinary, "-hide_banner"}

	input, err := inputArguments(settings)
	if err != nil {
		return nil, err
	}
	args = append(args, input...)

	args = append(args, mediaOptions(settings)...)

	formatArgs, err := formatArguments(settings, localDir)
	if err != nil {
		return nil, err
	}
	args = append(args, formatArgs...)

	args = append(args, "-max_muxing_queue_size", strconv.Itoa(maxMuxingQueueSize))
	args = append(args, outputPath(settings, localDir))

	return args, nil
}

func inputArguments(settings job.RenditionSettings) ([]string, error) {
	input := settings.Input
	if strings.HasPrefix(strings.ToLower(input), "http") {
		return []string{
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "300",
			"-i", input,
		}, nil
	}
	if strings.HasPrefix(input, "s3://") {
		signed, err := clients.SignURL(input)
		if err != nil {
			return nil, fmt.Errorf("signing s3 input: %w", err)
		}
		return []string{"-i", signed}, nil
	}
	return []string{"-i", input}, nil
}

func mediaOptions(settings job.RenditionSettings) []string {
	var args []string
	out := settings.Output

	videoCodec := out.VideoCodec
	if videoCodec == "" {
		videoCodec = DefaultVideoCodec
	}
	args = append(args, "-c:v", videoCodec, "-preset", DefaultPreset)
	if out.Width > 0 && out.Height > 0 {
		args = append(args, "-s", fmt.Sprintf("%dx%d", out.Width, out.Height))
	}
	if out.VideoBitrate > 0 {
		args = append(args, "-b:v", fmt.Sprintf("%d", out.VideoBitrate))
	}

	audioCodec := out.AudioCodec
	if audioCodec == "" {
		audioCodec = DefaultAudioCodec
	}
	args = append(args, "-c:a", audioCodec)
	if out.AudioBitrate > 0 {
		args = append(args, "-b:a", fmt.Sprintf("%d", out.AudioBitrate))
	}

	return args
}

func formatArguments(settings job.RenditionSettings, localDir string) ([]string, error) {
	if settings.Format != job.FormatHLS {
		return nil, nil
	}

	segmentLength := settings.SegmentLength
	if segmentLength <= 0 {
		segmentLength = 10
	}

	args := []string{
		"-f", "hls",
		"-hls_list_size", "0",
		"-hls_time", strconv.Itoa(segmentLength),
		"-hls_segment_filename", filepath.Join(localDir, "video_%d.ts"),
	}

	if settings.Encryption != nil && settings.Encryption.AES128 != nil {
		keyInfoPath, err := writeKeyInfoFile(localDir, *settings.Encryption.AES128)
		if err != nil {
			return nil, err
		}
		args = append(args, "-hls_key_info_file", keyInfoPath)
	}

	return args, nil
}

// writeKeyInfoFile materialises the two files ffmpeg's HLS muxer needs for
// AES-128 encryption: the raw key bytes, and a text file naming the key's
// public URL plus the local key path.
func writeKeyInfoFile(localDir string, enc job.AES128Encryption) (string, error) {
	keyDir := filepath.Join(localDir, "..", "key")
	if err := os.MkdirAll(keyDir, 0o700); err != nil {
		return "", fmt.Errorf("creating key dir: %w", err)
	}

	keyBytes, err := hex.DecodeString(enc.Key)
	if err != nil {
		return "", fmt.Errorf("decoding encryption key: %w", err)
	}
	keyPath := filepath.Join(keyDir, "enc.key")
	if err := os.WriteFile(keyPath, keyBytes, 0o600); err != nil {
		return "", fmt.Errorf("writing enc.key: %w", err)
	}

	keyInfoPath := filepath.Join(keyDir, "enc.keyinfo")
	content := enc.URL + "\n" + keyPath + "\n"
	if err := os.WriteFile(keyInfoPath, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("writing enc.keyinfo: %w", err)
	}

	return keyInfoPath, nil
}

// GenerateToPipe builds the ffmpeg argv for the packaging path: instead of
// muxing directly to HLS/MP4 on disk, ffmpeg writes an MPEG-TS stream to
// pipePath, which a downstream Packager (possibly via the Fan-out Writer)
// reads from.
func GenerateToPipe(settings job.RenditionSettings, pipePath string) ([]string, error) {
	args := []string{config.TranscoderBinary, "-hide_banner"}

	input, err := inputArguments(settings)
	if err != nil {
		return nil, err
	}
	args = append(args, input...)
	args = append(args, mediaOptions(settings)...)
	args = append(args, "-max_muxing_queue_size", strconv.Itoa(maxMuxingQueueSize))
	args = append(args, "-f", "mpegts", pipePath)

	return args, nil
}

func outputPath(settings job.RenditionSettings, localDir string) string {
	fileName := settings.FileName
	if fileName == "" {
		if settings.Format == job.FormatHLS {
			fileName = "video.m3u8"
		} else {
			fileName = "video.mp4"
		}
	}
	return filepath.Join(localDir, fileName)
}
