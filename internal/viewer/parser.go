package viewer

import (
	"regexp"
	"strings"
)

const (
	extinfMarker = "#EXTINF"

	// PlaceholderName is used when a metadata line carries no comma.
	PlaceholderName = "Unknown channel"
)

var logoAttr = regexp.MustCompile(`tvg-logo="([^"]*)"`)

// Parse converts extended M3U text into channels in source order.
//
// A #EXTINF line takes the next non-blank line as its stream URL unless that
// line starts with '#', in which case the metadata line yields nothing and the
// scan continues from the '#' line. Only the display name (text after the last
// comma) and the tvg-logo attribute are extracted; everything else is ignored.
func Parse(text string) []Channel {
	lines := nonBlankLines(text)
	channels := make([]Channel, 0, len(lines)/2)

	for i := 0; i < len(lines); i++ {
		info := lines[i]
		if !strings.HasPrefix(info, extinfMarker) {
			continue
		}
		if i+1 >= len(lines) {
			break
		}
		next := lines[i+1]
		if strings.HasPrefix(next, "#") {
			continue
		}

		channels = append(channels, Channel{
			Name: displayName(info),
			URL:  next,
			Logo: logo(info),
		})
		i++ // URL line consumed
	}

	return channels
}

// nonBlankLines splits on '\n' and drops whitespace-only lines. Each kept line
// is trimmed, which also strips the '\r' of CRLF files.
func nonBlankLines(text string) []string {
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func displayName(info string) string {
	idx := strings.LastIndex(info, ",")
	if idx == -1 {
		return PlaceholderName
	}
	return strings.TrimSpace(info[idx+1:])
}

func logo(info string) string {
	m := logoAttr.FindStringSubmatch(info)
	if m == nil {
		return ""
	}
	return m[1]
}
