package lark

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractPostFlattensRows(t *testing.T) {
	raw := `{"title":"Deploy","content":[[{"tag":"at","user_id":"@_user_1","user_name":"OpsBot"},{"tag":"text","text":" roll back"}],[{"tag":"text","text":"service api"}]]}`
	assert.Equal(t, "Deploy\n@OpsBot roll back\nservice api", extractPost(raw, nil))
}

func TestExtractTextFallsBackToRaw(t *testing.T) {
	assert.Equal(t, "not json", extractText("not json", nil))
	assert.Equal(t, "", extractText("", nil))
}

func TestRenderMentionsLongestKeyFirst(t *testing.T) {
	names := map[string]string{"@_user_1": "A", "@_user_10": "B"}
	assert.Equal(t, "@B and @A", renderMentions("@_user_10 and @_user_1", names))
}

func TestPostContent(t *testing.T) {
	assert.Equal(t,
		`{"zh_cn":{"content":[[{"tag":"text","text":"hi"}],[{"tag":"img","image_key":"img_1"}]],"title":""}}`,
		postContent("hi", []string{"img_1"}),
	)
}

func TestFileType(t *testing.T) {
	assert.Equal(t, "pdf", fileType("a.PDF"))
	assert.Equal(t, "doc", fileType("notes.docx"))
	assert.Equal(t, "xls", fileType("sheet.xlsx"))
	assert.Equal(t, "stream", fileType("archive.tar.gz"))
}
