// Package playlist loads the ordered list of radio stations.
package playlist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/sweeney/radio-alarm/internal/config"
)

// ErrEmptyPlaylist is returned when a playlist contains no stream entries.
var ErrEmptyPlaylist = errors.New("playlist contains no valid entries")

// Station is one stream source. Index is its 0-based position.
type Station struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	URL   string `json:"url"`
}

// ID returns the 1-based station number used by the API and control socket.
func (s Station) ID() int { return s.Index + 1 }

// Load reads the playlist at path. It fails with a config.ConfigError if the
// file cannot be read or holds no stream entries.
func Load(p string) ([]Station, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, &config.ConfigError{Path: p, Err: fmt.Errorf("open playlist: %w", err)}
	}
	defer f.Close()

	stations, err := Parse(f)
	if err != nil {
		return nil, &config.ConfigError{Path: p, Err: err}
	}
	return stations, nil
}

// Parse reads playlist entries from r.
//
// Blank lines and lines starting with '#' are skipped. An "#EXTINF:-1,Label"
// line names the URL that follows it. A URL line may also carry its own label
// after whitespace or a '|'. Lines that do not parse as absolute URLs are
// ignored.
func Parse(r io.Reader) ([]Station, error) {
	var (
		stations []Station
		pending  string
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if label, ok := strings.CutPrefix(line, "#EXTINF:"); ok {
				if _, name, found := strings.Cut(label, ","); found {
					pending = strings.TrimSpace(name)
				}
			}
			continue
		}

		raw, label := splitLabel(line)
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || (u.Host == "" && u.Scheme != "file") {
			pending = ""
			continue
		}
		if label == "" {
			label = pending
		}
		if label == "" {
			label = nameFromURL(u)
		}
		pending = ""
		stations = append(stations, Station{
			Index: len(stations),
			Name:  label,
			URL:   raw,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}
	if len(stations) == 0 {
		return nil, ErrEmptyPlaylist
	}
	return stations, nil
}

func splitLabel(line string) (string, string) {
	if raw, label, ok := strings.Cut(line, "|"); ok {
		return strings.TrimSpace(raw), strings.TrimSpace(label)
	}
	if i := strings.IndexAny(line, " \t"); i > 0 {
		return line[:i], strings.TrimSpace(line[i:])
	}
	return line, ""
}

// nameFromURL derives a label like "stream.example.com/live" from a URL.
func nameFromURL(u *url.URL) string {
	name := u.Hostname()
	base := path.Base(u.Path)
	if base != "" && base != "/" && base != "." {
		name += "/" + strings.TrimSuffix(base, path.Ext(base))
	}
	if name == "" {
		return u.String()
	}
	return name
}
