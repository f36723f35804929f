package jsonx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalNoEscapeKeepsMarkup(t *testing.T) {
	payload := map[string]string{"text": "<b>build</b> & deploy"}

	escaped, err := Marshal(payload)
	require.NoError(t, err)
	assert.Contains(t, string(escaped), `\u003cb\u003e`)

	plain, err := MarshalNoEscape(payload)
	require.NoError(t, err)
	assert.Equal(t, `{"text":"<b>build</b> & deploy"}`, string(plain))

	var back map[string]string
	require.NoError(t, Unmarshal(plain, &back))
	assert.Equal(t, payload, back)
}
