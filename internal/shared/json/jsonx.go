// Package jsonx routes JSON encoding through goccy/go-json.
package jsonx

import "github.com/goccy/go-json"

var (
	Marshal       = json.Marshal
	MarshalIndent = json.MarshalIndent
	Unmarshal     = json.Unmarshal
	NewDecoder    = json.NewDecoder
	// MarshalNoEscape leaves <, > and & unescaped, as chat message bodies
	// are never embedded in HTML.
	MarshalNoEscape = json.MarshalNoEscape
)

type RawMessage = json.RawMessage
