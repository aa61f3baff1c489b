package fanout

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livepeer/catalyst-render/executor"
)

func mkfifo(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, syscall.Mkfifo(path, 0o600))
}

func TestWriterCopiesInputToAllOutputs(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	out1 := filepath.Join(dir, "out1")
	out2 := filepath.Join(dir, "out2")
	mkfifo(t, in)
	mkfifo(t, out1)
	mkfifo(t, out2)

	w := New(in, []string{out1, out2})
	require.NoError(t, w.Start())

	readDone := make(chan string, 2)
	go readAll(t, out1, readDone)
	go readAll(t, out2, readDone)

	writer, err := os.OpenFile(in, os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = writer.WriteString("hello fanout")
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	require.Equal(t, "hello fanout", <-readDone)
	require.Equal(t, "hello fanout", <-readDone)

	require.Eventually(t, func() bool {
		return w.Status() == executor.Finished
	}, time.Second, 5*time.Millisecond)
}

func readAll(t *testing.T, path string, out chan<- string) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0o600)
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 1024)
	n, _ := f.Read(buf)
	out <- string(buf[:n])
}

func TestWriterFailsWhenOutputPipeMissing(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	mkfifo(t, in)

	w := New(in, []string{filepath.Join(dir, "nonexistent")})
	require.NoError(t, w.Start())

	require.Eventually(t, func() bool {
		return w.Status() == executor.Errored
	}, time.Second, 5*time.Millisecond)
	require.Error(t, w.Err())
}
