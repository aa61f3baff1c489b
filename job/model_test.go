package job

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpdateProgressAveragesOutputs(t *testing.T) {
	j := &Job{Outputs: []*Output{
		{Progress: 0.2},
		{Progress: 0.4},
		{Progress: 0.6},
	}}
	j.UpdateProgress()
	require.InDelta(t, 0.4, j.Progress, 0.0001)
}

func TestUpdateProgressNoOutputsLeavesZero(t *testing.T) {
	j := &Job{}
	j.UpdateProgress()
	require.Equal(t, 0.0, j.Progress)
}

func TestAllOutputsCompleted(t *testing.T) {
	j := &Job{Outputs: []*Output{
		{Status: StatusCompleted},
		{Status: StatusProcessing},
	}}
	require.False(t, j.AllOutputsCompleted())

	j.Outputs[1].Status = StatusCompleted
	require.True(t, j.AllOutputsCompleted())
}

func TestStatusIsTerminal(t *testing.T) {
	require.True(t, StatusCompleted.IsTerminal())
	require.True(t, StatusCancelled.IsTerminal())
	require.True(t, StatusError.IsTerminal())
	require.False(t, StatusProcessing.IsTerminal())
	require.False(t, StatusQueued.IsTerminal())
}

func TestRenditionSettingsCloneIsIndependent(t *testing.T) {
	original := RenditionSettings{
		Encryption: &Encryption{AES128: &AES128Encryption{Key: "aa"}},
	}
	clone := original.Clone()
	clone.Encryption.AES128.Key = "bb"

	require.Equal(t, "aa", original.Encryption.AES128.Key)
	require.Equal(t, "bb", clone.Encryption.AES128.Key)
}

func TestOutputSpecResolution(t *testing.T) {
	o := OutputSpec{Width: 1280, Height: 720}
	require.Equal(t, "1280x720", o.Resolution())
}
