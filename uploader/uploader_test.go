package uploader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShouldSkipTmpFiles(t *testing.T) {
	u := &Uploader{}
	require.True(t, u.shouldSkip("video_0.ts.tmp", true))
	require.True(t, u.shouldSkip("video_0.ts.tmp", false))
}

func TestShouldSkipPlaylistsUntilTranscodeCompleted(t *testing.T) {
	u := &Uploader{}
	require.True(t, u.shouldSkip("video.m3u8", false))
	require.False(t, u.shouldSkip("video.m3u8", true))
}

func TestShouldNotSkipOrdinarySegments(t *testing.T) {
	u := &Uploader{}
	require.False(t, u.shouldSkip("video_0.ts", false))
}

func TestIsLocalDestination(t *testing.T) {
	require.True(t, isLocalDestination("/data/out/job-1"))
	require.True(t, isLocalDestination("file:///data/out/job-1"))
	require.False(t, isLocalDestination("s3://bucket/job-1"))
	require.False(t, isLocalDestination("https://example.com/job-1"))
}

func TestMoveDirectoryIsNoOpWhenSourceMissing(t *testing.T) {
	dir := t.TempDir()
	u := &Uploader{LocalDir: filepath.Join(dir, "nonexistent"), RemoteURL: filepath.Join(dir, "dest")}
	require.NoError(t, u.moveDirectory())
}

func TestMoveDirectoryRenamesOnce(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "nested", "dst")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "video.m3u8"), []byte("data"), 0o644))

	u := &Uploader{LocalDir: src, RemoteURL: dst}
	require.NoError(t, u.moveDirectory())

	_, err := os.Stat(src)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dst, "video.m3u8"))
	require.NoError(t, err)

	require.NoError(t, u.moveDirectory())
}

func TestMarkTranscodeCompleted(t *testing.T) {
	u := New(t.TempDir(), "s3://bucket/out")
	require.False(t, u.isTranscodeCompleted())
	u.MarkTranscodeCompleted()
	require.True(t, u.isTranscodeCompleted())
}
