// Package mediainfo reads display metadata and duration hints from fetched
// source files. Probing is best-effort: a file without usable tags yields an
// empty Info, not an error.
package mediainfo

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacvorbis"
	flac "github.com/go-flac/go-flac"

	"github.com/Yashground/video-processing-app-sub000/internal/constants"
)

// Info holds whatever metadata the source file carried.
type Info struct {
	Title    string
	Artist   string
	Language string
	Duration time.Duration
}

// Probe inspects the file at path based on its extension.
func Probe(path string) (*Info, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case constants.ExtFLAC:
		return probeFLAC(path)
	case constants.ExtMP3:
		return probeMP3(path)
	default:
		return &Info{}, nil
	}
}

// probeFLAC reads StreamInfo for the exact duration and the Vorbis comment
// block for title/artist.
func probeFLAC(path string) (*Info, error) {
	f, err := flac.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse flac: %w", err)
	}

	info := &Info{}

	si, err := f.GetStreamInfo()
	if err == nil && si.SampleRate > 0 {
		seconds := float64(si.SampleCount) / float64(si.SampleRate)
		info.Duration = time.Duration(seconds * float64(time.Second))
	}

	for _, block := range f.Meta {
		if block.Type != flac.VorbisComment {
			continue
		}
		vc, parseErr := flacvorbis.ParseFromMetaDataBlock(*block)
		if parseErr != nil {
			continue
		}
		if titles, _ := vc.Get(flacvorbis.FIELD_TITLE); len(titles) > 0 {
			info.Title = titles[0]
		}
		if artists, _ := vc.Get(flacvorbis.FIELD_ARTIST); len(artists) > 0 {
			info.Artist = artists[0]
		}
		if langs, _ := vc.Get("LANGUAGE"); len(langs) > 0 {
			info.Language = langs[0]
		}
	}

	return info, nil
}

// probeMP3 reads ID3v2 frames. MP3 carries no reliable duration in its tags,
// so Duration stays zero and the caller falls back to ffprobe.
func probeMP3(path string) (*Info, error) {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return nil, fmt.Errorf("failed to parse id3 tags: %w", err)
	}
	defer tag.Close()

	info := &Info{
		Title:  tag.Title(),
		Artist: tag.Artist(),
	}
	if frame := tag.GetTextFrame("TLAN"); frame.Text != "" {
		info.Language = frame.Text
	}

	return info, nil
}
