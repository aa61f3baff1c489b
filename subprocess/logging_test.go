package subprocess

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livepeer/catalyst-render/progress"
)

func TestStderrTeeFeedsWholeLinesToParser(t *testing.T) {
	parser := progress.NewParser()
	tee := NewStderrTee(parser)

	_, err := tee.Write([]byte("Duration: 00:00:10.00, start: 0.000000\n"))
	require.NoError(t, err)
	_, err = tee.Write([]byte("frame=1 time=00:00:05.00 bitrate"))
	require.NoError(t, err)
	_, err = tee.Write([]byte("=128kbits/s\n"))
	require.NoError(t, err)

	require.Equal(t, 50.0, parser.Percent())
}

func TestStderrTeeHandlesMultipleLinesInOneWrite(t *testing.T) {
	parser := progress.NewParser()
	tee := NewStderrTee(parser)

	_, err := tee.Write([]byte("Duration: 00:00:20.00, start: 0.000000\nframe=1 time=00:00:20.00 bitrate=128kbits/s\n"))
	require.NoError(t, err)

	require.Equal(t, 100.0, parser.Percent())
}
