package lark

import (
	"path/filepath"
	"sort"
	"strings"

	jsonx "opsbot/internal/shared/json"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
)

// mentionNames maps mention placeholders such as "@_user_1" to the display
// name of the mentioned user.
func mentionNames(mentions []*larkim.MentionEvent) map[string]string {
	out := make(map[string]string, len(mentions))
	for _, m := range mentions {
		if m == nil {
			continue
		}
		key := strings.TrimSpace(deref(m.Key))
		name := strings.TrimSpace(deref(m.Name))
		if key == "" || name == "" {
			continue
		}
		out[key] = name
	}
	return out
}

// renderMentions swaps placeholders for "@Name" so trigger names can match.
func renderMentions(text string, names map[string]string) string {
	if len(names) == 0 || !strings.Contains(text, "@") {
		return text
	}
	keys := make([]string, 0, len(names))
	for key := range names {
		keys = append(keys, key)
	}
	// Longer keys first so "@_user_1" does not clobber "@_user_10".
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, key := range keys {
		text = strings.ReplaceAll(text, key, "@"+names[key])
	}
	return text
}

func extractContent(msgType, raw string, mentions []*larkim.MentionEvent) string {
	switch msgType {
	case "text":
		return extractText(raw, mentionNames(mentions))
	case "post":
		return extractPost(raw, mentionNames(mentions))
	default:
		return ""
	}
}

// extractText parses {"text":"..."}.
func extractText(raw string, names map[string]string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	var parsed struct {
		Text string `json:"text"`
	}
	if err := jsonx.Unmarshal([]byte(raw), &parsed); err != nil {
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(renderMentions(parsed.Text, names))
}

type postElement struct {
	Tag      string `json:"tag"`
	Text     string `json:"text"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// extractPost flattens {"title":"...","content":[[{"tag":"text",...}]]}.
func extractPost(raw string, names map[string]string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	var parsed struct {
		Title   string          `json:"title"`
		Content [][]postElement `json:"content"`
	}
	if err := jsonx.Unmarshal([]byte(raw), &parsed); err != nil {
		return strings.TrimSpace(raw)
	}
	lines := make([]string, 0, len(parsed.Content)+1)
	if title := strings.TrimSpace(parsed.Title); title != "" {
		lines = append(lines, title)
	}
	for _, row := range parsed.Content {
		var sb strings.Builder
		for _, el := range row {
			switch el.Tag {
			case "at":
				name := strings.TrimSpace(el.UserName)
				if name == "" {
					name = names[strings.TrimSpace(el.UserID)]
				}
				if name != "" {
					sb.WriteString("@" + name)
				}
			default:
				sb.WriteString(renderMentions(el.Text, names))
			}
		}
		lines = append(lines, sb.String())
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func textContent(text string) string {
	payload, _ := jsonx.MarshalNoEscape(map[string]string{"text": text})
	return string(payload)
}

func imageContent(imageKey string) string {
	payload, _ := jsonx.MarshalNoEscape(map[string]string{"image_key": imageKey})
	return string(payload)
}

func fileContent(fileKey string) string {
	payload, _ := jsonx.MarshalNoEscape(map[string]string{"file_key": fileKey})
	return string(payload)
}

type postNode struct {
	Tag      string `json:"tag"`
	Text     string `json:"text,omitempty"`
	ImageKey string `json:"image_key,omitempty"`
}

// postContent builds one rich message holding the text followed by every
// uploaded image, one paragraph each.
func postContent(text string, imageKeys []string) string {
	rows := make([][]postNode, 0, len(imageKeys)+1)
	if strings.TrimSpace(text) != "" {
		rows = append(rows, []postNode{{Tag: "text", Text: text}})
	}
	for _, key := range imageKeys {
		rows = append(rows, []postNode{{Tag: "img", ImageKey: key}})
	}
	payload, _ := jsonx.MarshalNoEscape(map[string]any{
		"zh_cn": map[string]any{"title": "", "content": rows},
	})
	return string(payload)
}

var supportedFileTypes = map[string]bool{
	"opus": true,
	"mp4":  true,
	"pdf":  true,
	"doc":  true,
	"xls":  true,
	"ppt":  true,
}

// fileType maps a file name to the Lark upload file_type.
func fileType(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	switch ext {
	case "docx":
		ext = "doc"
	case "xlsx":
		ext = "xls"
	case "pptx":
		ext = "ppt"
	}
	if supportedFileTypes[ext] {
		return ext
	}
	return "stream"
}
