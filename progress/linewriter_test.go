package progress

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLineWriterSplitsOnNewline(t *testing.T) {
	var lines []string
	w := NewLineWriter(func(line string) { lines = append(lines, line) })

	n, err := w.Write([]byte("first\nsecond\n"))
	require.NoError(t, err)
	require.Equal(t, 13, n)
	require.Equal(t, []string{"first", "second"}, lines)
}

func TestLineWriterBuffersPartialWrites(t *testing.T) {
	var lines []string
	w := NewLineWriter(func(line string) { lines = append(lines, line) })

	_, _ = w.Write([]byte("par"))
	_, _ = w.Write([]byte("tial\ncomp"))
	_, _ = w.Write([]byte("lete\n"))

	require.Equal(t, []string{"partial", "complete"}, lines)
}
