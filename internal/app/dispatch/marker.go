package dispatch

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"opsbot/internal/domain/chat"
	jsonx "opsbot/internal/shared/json"
)

// MarkerPrefix opens an inline artifact marker: [FILE_MESSAGE:<json>].
const MarkerPrefix = "[FILE_MESSAGE:"

// Parsed is a response split into free text and artifacts.
type Parsed struct {
	Text      string
	Artifacts []chat.Artifact
	// Dropped counts markers discarded as malformed or out of sandbox.
	Dropped int
}

type markerPayload struct {
	Type    string `json:"type"`
	URL     string `json:"url"`
	Name    string `json:"name"`
	NASPath string `json:"nas_path"`
}

// Sandbox lists the directories artifact paths may point into.
type Sandbox struct {
	Roots []string
}

// Contains cleans p and reports whether it is an absolute path inside one
// of the roots.
func (s Sandbox) Contains(p string) (string, bool) {
	p = strings.TrimSpace(p)
	if p == "" || !filepath.IsAbs(p) {
		return "", false
	}
	cleaned := filepath.Clean(p)
	for _, root := range s.Roots {
		root = strings.TrimSpace(root)
		if root == "" || !filepath.IsAbs(root) {
			continue
		}
		root = filepath.Clean(root)
		rel, err := filepath.Rel(root, cleaned)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return cleaned, true
	}
	return "", false
}

// ParseResponse extracts every artifact marker from raw. Markers that do not
// decode strictly, name an unknown type, carry a non-http(s) URL or point
// outside the sandbox are removed from the text and dropped.
func ParseResponse(raw string, sandbox Sandbox) Parsed {
	var (
		out  Parsed
		text strings.Builder
		rest = raw
	)
	for {
		idx := strings.Index(rest, MarkerPrefix)
		if idx < 0 {
			text.WriteString(rest)
			break
		}
		text.WriteString(rest[:idx])
		body := rest[idx+len(MarkerPrefix):]

		end, ok := scanObject(body)
		if !ok || end >= len(body) || body[end] != ']' {
			out.Dropped++
			rest = skipBroken(body)
			continue
		}
		artifact, valid := decodeMarker(body[:end], sandbox)
		if valid {
			out.Artifacts = append(out.Artifacts, artifact)
		} else {
			out.Dropped++
		}
		rest = body[end+1:]
	}
	out.Text = tidyText(text.String())
	return out
}

// scanObject returns the length of the JSON object at the start of s.
func scanObject(s string) (int, bool) {
	if !strings.HasPrefix(s, "{") {
		return 0, false
	}
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// skipBroken drops a malformed marker up to its closing bracket or the end
// of the line.
func skipBroken(body string) string {
	stop := len(body)
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		stop = nl
	}
	if br := strings.IndexByte(body[:stop], ']'); br >= 0 {
		return body[br+1:]
	}
	return body[stop:]
}

func decodeMarker(raw string, sandbox Sandbox) (chat.Artifact, bool) {
	dec := jsonx.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	var payload markerPayload
	if err := dec.Decode(&payload); err != nil {
		return chat.Artifact{}, false
	}

	var kind chat.ArtifactKind
	switch strings.TrimSpace(payload.Type) {
	case string(chat.ArtifactImage):
		kind = chat.ArtifactImage
	case string(chat.ArtifactFile):
		kind = chat.ArtifactFile
	default:
		return chat.Artifact{}, false
	}

	artifact := chat.Artifact{Kind: kind, Name: strings.TrimSpace(payload.Name), Backend: "primary"}
	if rawURL := strings.TrimSpace(payload.URL); rawURL != "" {
		u, err := url.Parse(rawURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return chat.Artifact{}, false
		}
		artifact.URL = u.String()
	}
	if rawPath := strings.TrimSpace(payload.NASPath); rawPath != "" {
		cleaned, ok := sandbox.Contains(rawPath)
		if !ok {
			return chat.Artifact{}, false
		}
		artifact.Path = cleaned
	}
	if artifact.URL == "" && artifact.Path == "" {
		return chat.Artifact{}, false
	}
	if artifact.Name == "" {
		artifact.Name = defaultName(artifact)
	}
	return artifact, true
}

func defaultName(a chat.Artifact) string {
	if a.Path != "" {
		return filepath.Base(a.Path)
	}
	if u, err := url.Parse(a.URL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			return base
		}
	}
	return string(a.Kind)
}

func tidyText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
