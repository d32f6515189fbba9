package player

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/renameio/v2"
)

// StreamInfo is metadata reported by the player for the current stream.
type StreamInfo struct {
	StreamURL   string    `json:"stream_url"`
	StationName string    `json:"station_name"`
	StationURL  string    `json:"station_url"`
	Title       string    `json:"title"`
	Bitrate     string    `json:"bitrate"`
	Samplerate  string    `json:"samplerate"`
	Channels    string    `json:"channels"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var (
	streamTitleRe = regexp.MustCompile(`StreamTitle='(.*?)'`)
	icyNameRe     = regexp.MustCompile(`ICY-NAME:\s*(.*)`)
	icyURLRe      = regexp.MustCompile(`ICY-URL:\s*(.*)`)
	mpegRe        = regexp.MustCompile(`MPEG.*?(\d+\s*kbit/s),\s*(\d+\s*kHz)\s*(Mono|Stereo)`)
)

// applyLine updates info from one line of player output and reports whether
// anything changed.
func applyLine(info *StreamInfo, line string) bool {
	switch {
	case streamTitleRe.MatchString(line):
		return set(&info.Title, streamTitleRe.FindStringSubmatch(line)[1])
	case icyNameRe.MatchString(line):
		return set(&info.StationName, strings.TrimSpace(icyNameRe.FindStringSubmatch(line)[1]))
	case icyURLRe.MatchString(line):
		return set(&info.StationURL, strings.TrimSpace(icyURLRe.FindStringSubmatch(line)[1]))
	case mpegRe.MatchString(line):
		m := mpegRe.FindStringSubmatch(line)
		changed := set(&info.Bitrate, m[1])
		changed = set(&info.Samplerate, m[2]) || changed
		changed = set(&info.Channels, m[3]) || changed
		return changed
	}
	return false
}

func set(field *string, v string) bool {
	if *field == v {
		return false
	}
	*field = v
	return true
}

// writeInfo replaces path with the JSON encoding of info in one rename, so
// readers never see a partial file.
func writeInfo(path string, info StreamInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("encode stream info: %w", err)
	}
	if err := renameio.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write stream info: %w", err)
	}
	return nil
}
