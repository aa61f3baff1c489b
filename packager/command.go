// Package packager synthesizes the `packager` (Shaka Packager) argv for one
// rendition's segmented output, given its settings and a local output
// directory.
package packager

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/livepeer/catalyst-render/config"
	"github.com/livepeer/catalyst-render/job"
)

const defaultSegmentLength = 10

// Needed reports whether these rendition settings require a packager at
// all. Plain HLS (the transcoder's own HLS muxer handles it) and MP4 never
// need one; DASH and adaptive always do; HLS needs one only when FairPlay
// DRM is configured (ffmpeg's muxer has no FairPlay support).
func Needed(settings job.RenditionSettings) bool {
	switch settings.Format {
	case job.FormatDASH, job.FormatAdaptive:
		return true
	case job.FormatHLS:
		return settings.Encryption != nil && settings.Encryption.FairPlay != nil
	default:
		return false
	}
}

// Generate builds the packager argv. in is the source the packager reads
// from — a named pipe allocated by the Controller: the transcoder's own
// pipe when only one format is packaged, or a fan-out pipe otherwise.
func Generate(settings job.RenditionSettings, in string, outputDir string) []string {
	args := []string{config.PackagerBinary}
	args = append(args, videoStream(settings, in, outputDir))
	args = append(args, audioStream(settings, in, outputDir))
	args = append(args, "--segment_duration", strconv.Itoa(segmentLength(settings)))
	args = append(args, manifestArguments(settings, outputDir)...)
	args = append(args, encryptionArguments(settings.Encryption)...)
	return args
}

func segmentLength(settings job.RenditionSettings) int {
	if settings.SegmentLength > 0 {
		return settings.SegmentLength
	}
	return defaultSegmentLength
}

func videoStream(settings job.RenditionSettings, in, outputDir string) string {
	name := settings.Output.Name
	return fmt.Sprintf(
		"in=%s,stream=video,init_segment=%s,segment_template=%s",
		in,
		filepath.Join(outputDir, fmt.Sprintf("video_%s_init.mp4", name)),
		filepath.Join(outputDir, fmt.Sprintf("video_%s_$Number$.mp4", name)),
	)
}

func audioStream(settings job.RenditionSettings, in, outputDir string) string {
	return fmt.Sprintf(
		"in=%s,stream=audio,init_segment=%s,segment_template=%s",
		in,
		filepath.Join(outputDir, "audio_init.mp4"),
		filepath.Join(outputDir, "audio_$Number$.mp4"),
	)
}

func manifestArguments(settings job.RenditionSettings, outputDir string) []string {
	var args []string

	switch settings.Format {
	case job.FormatDASH, job.FormatAdaptive:
		if settings.PlaylistType == job.PlaylistVOD {
			args = append(args, "--generate_static_live_mpd")
		}
		args = append(args, "--mpd_output", filepath.Join(outputDir, "video.mpd"))
	}

	switch settings.Format {
	case job.FormatHLS, job.FormatAdaptive:
		if settings.PlaylistType == job.PlaylistLive {
			args = append(args, "--hls_playlist_type", "LIVE")
		} else {
			args = append(args, "--hls_playlist_type", "VOD")
		}
		args = append(args, "--hls_master_playlist_output", filepath.Join(outputDir, "video.m3u8"))
	}

	return args
}

func encryptionArguments(enc *job.Encryption) []string {
	if enc == nil {
		return nil
	}

	if enc.Widevine != nil {
		w := enc.Widevine
		return []string{
			"--enable_widevine_encryption",
			"--key_server_url", w.KeyServerURL,
			"--content_id", w.ContentID,
			"--signer", w.Signer,
			"--aes_signing_key", w.AESSigningKey,
			"--aes_signing_iv", w.AESSigningIV,
		}
	}

	if enc.FairPlay != nil {
		f := enc.FairPlay
		return []string{
			"--enable_raw_key_encryption",
			"--keys", fmt.Sprintf("label=AUDIO:key=%s", f.Key),
			"--protection_systems", "Fairplay",
			"--iv", f.IV,
			"--hls_key_uri", f.KeyURI,
		}
	}

	if enc.FixedKey != nil {
		k := enc.FixedKey
		return []string{
			"--enable_fixed_key_encryption",
			"--key", k.Key,
			"--key_id", k.KeyID,
			"--hls_key_uri", k.KeyURI,
		}
	}

	return nil
}
