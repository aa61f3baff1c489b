package manifest

import (
	"encoding/xml"
	"fmt"
	"io"

	"github.com/livepeer/catalyst-render/clients"
	"github.com/livepeer/catalyst-render/job"
	"github.com/livepeer/catalyst-render/uploader"
)

// mpd is a minimal MPEG-DASH manifest model: just enough of the schema to
// carry the Video/Audio representations the Manifest Merger needs to
// combine. Attributes it has no struct tag for are dropped on re-encoding;
// a Representation's child elements are carried through verbatim via its
// innerxml field.
type mpd struct {
	XMLName                   xml.Name `xml:"MPD"`
	Xmlns                     string   `xml:"xmlns,attr"`
	Profiles                  string   `xml:"profiles,attr,omitempty"`
	Type                      string   `xml:"type,attr,omitempty"`
	MinBufferTime             string   `xml:"minBufferTime,attr,omitempty"`
	MediaPresentationDuration string   `xml:"mediaPresentationDuration,attr,omitempty"`
	Periods                   []period `xml:"Period"`
}

type period struct {
	ID             string          `xml:"id,attr,omitempty"`
	AdaptationSets []adaptationSet `xml:"AdaptationSet"`
}

type adaptationSet struct {
	ContentType     string           `xml:"contentType,attr"`
	Width           int              `xml:"width,attr,omitempty"`
	Height          int              `xml:"height,attr,omitempty"`
	MimeType        string           `xml:"mimeType,attr,omitempty"`
	Representations []representation `xml:"Representation"`
}

type representation struct {
	ID        string `xml:"id,attr"`
	Bandwidth int    `xml:"bandwidth,attr,omitempty"`
	Codecs    string `xml:"codecs,attr,omitempty"`
	BaseURL   string `xml:"BaseURL,omitempty"`
	Inner     []byte `xml:",innerxml"`
}

func parseMPD(data []byte) (*mpd, error) {
	var m mpd
	if err := xml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing mpd: %w", err)
	}
	return &m, nil
}

func (m *mpd) adaptationSet(contentType string) *adaptationSet {
	for pi := range m.Periods {
		for ai := range m.Periods[pi].AdaptationSets {
			if m.Periods[pi].AdaptationSets[ai].ContentType == contentType {
				return &m.Periods[pi].AdaptationSets[ai]
			}
		}
	}
	return nil
}

// mergeDASH clones the first Output's MPD as the base document, then walks
// every Output's MPD pulling its video/audio Representations into the
// base's matching AdaptationSet, tagging each with a BaseURL pointing back
// at that Output's own segment directory and renumbering representation
// ids so they're unique across the merged document.
func mergeDASH(j *job.Job) error {
	outputs := orderedOutputs(j)
	if len(outputs) == 0 {
		return fmt.Errorf("no outputs to merge")
	}

	base, err := fetchMPD(j, outputs[0])
	if err != nil {
		return err
	}

	fetched := make([]*mpd, len(outputs))
	paths := make([]string, len(outputs))
	for i, o := range outputs {
		m, err := fetchMPD(j, o)
		if err != nil {
			return err
		}
		fetched[i] = m
		paths[i] = renditionPath(o, dashSuffix)
	}

	merged := mergeMPDs(base, fetched, paths)

	out, err := xml.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding merged mpd: %w", err)
	}

	content := xml.Header + string(out)
	return uploader.SaveText(destination(j)+"/"+dashFileName, content)
}

// mergeMPDs folds every document in fetched into base's AdaptationSets,
// tagging each pulled Representation with the BaseURL at the matching
// index in paths and renumbering ids so they're unique across the result.
func mergeMPDs(base *mpd, fetched []*mpd, paths []string) *mpd {
	var videoReps, audioReps []representation

	for i, m := range fetched {
		path := paths[i]

		if set := m.adaptationSet("video"); set != nil {
			for _, r := range set.Representations {
				r.BaseURL = path
				videoReps = append(videoReps, r)
			}
		}
		if set := m.adaptationSet("audio"); set != nil {
			for _, r := range set.Representations {
				r.BaseURL = path
				audioReps = append(audioReps, r)
			}
		}
	}

	for i := range videoReps {
		videoReps[i].ID = fmt.Sprintf("%d", i)
	}
	for i := range audioReps {
		audioReps[i].ID = fmt.Sprintf("%d", i)
	}

	if set := base.adaptationSet("video"); set != nil {
		set.Representations = videoReps
	}
	if set := base.adaptationSet("audio"); set != nil {
		set.Representations = audioReps
	}

	return base
}

func fetchMPD(j *job.Job, o *job.Output) (*mpd, error) {
	manifestURL := destination(j) + "/" + renditionPath(o, dashSuffix) + dashFileName
	rc, err := clients.DownloadOSURL(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", manifestURL, err)
	}
	defer rc.Close()

	buf, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", manifestURL, err)
	}

	return parseMPD(buf)
}
