package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleMPD = `<?xml version="1.0"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static">
  <Period id="0">
    <AdaptationSet contentType="video" width="640" height="360">
      <Representation id="0" bandwidth="500000"></Representation>
    </AdaptationSet>
    <AdaptationSet contentType="audio">
      <Representation id="0" bandwidth="128000"></Representation>
    </AdaptationSet>
  </Period>
</MPD>`

func TestParseMPDExtractsAdaptationSets(t *testing.T) {
	m, err := parseMPD([]byte(sampleMPD))
	require.NoError(t, err)

	video := m.adaptationSet("video")
	require.NotNil(t, video)
	require.Len(t, video.Representations, 1)
	require.Equal(t, 500000, video.Representations[0].Bandwidth)

	audio := m.adaptationSet("audio")
	require.NotNil(t, audio)
	require.Len(t, audio.Representations, 1)
}

func TestParseMPDMissingAdaptationSetReturnsNil(t *testing.T) {
	m, err := parseMPD([]byte(sampleMPD))
	require.NoError(t, err)
	require.Nil(t, m.adaptationSet("text"))
}

func TestMergeMPDsRenumbersAndTagsBaseURL(t *testing.T) {
	base, err := parseMPD([]byte(sampleMPD))
	require.NoError(t, err)

	rendition1, err := parseMPD([]byte(sampleMPD))
	require.NoError(t, err)
	rendition2, err := parseMPD([]byte(sampleMPD))
	require.NoError(t, err)

	merged := mergeMPDs(base, []*mpd{rendition1, rendition2}, []string{"360p_dash/", "720p_dash/"})

	video := merged.adaptationSet("video")
	require.Len(t, video.Representations, 2)
	require.Equal(t, "0", video.Representations[0].ID)
	require.Equal(t, "360p_dash/", video.Representations[0].BaseURL)
	require.Equal(t, "1", video.Representations[1].ID)
	require.Equal(t, "720p_dash/", video.Representations[1].BaseURL)

	audio := merged.adaptationSet("audio")
	require.Len(t, audio.Representations, 2)
	require.Equal(t, "360p_dash/", audio.Representations[0].BaseURL)
}

func TestMergeMPDsHandlesMissingAdaptationSet(t *testing.T) {
	base, err := parseMPD([]byte(sampleMPD))
	require.NoError(t, err)

	videoOnly := `<?xml version="1.0"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static">
  <Period id="0">
    <AdaptationSet contentType="video" width="320" height="180">
      <Representation id="0" bandwidth="250000"></Representation>
    </AdaptationSet>
  </Period>
</MPD>`
	rendition, err := parseMPD([]byte(videoOnly))
	require.NoError(t, err)

	merged := mergeMPDs(base, []*mpd{rendition}, []string{"180p_dash/"})

	require.Len(t, merged.adaptationSet("video").Representations, 1)
	require.Empty(t, merged.adaptationSet("audio").Representations)
}
