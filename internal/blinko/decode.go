package blinko

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/double-tu/blinko-to-obsidian/internal/models"
)

var errNoNoteArray = errors.New("no note array in response")

// decodeNotes accepts a bare array or the first array found among
// .data.list, .data.records, .data and .list. A null at one of those keys
// decodes as an empty page.
func decodeNotes(body []byte) ([]models.RemoteNote, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("decode notes: empty body")
	}
	if trimmed[0] == '[' {
		return unmarshalNotes(trimmed)
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
		List json.RawMessage `json:"list"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode notes: %w", err)
	}

	if isArray(envelope.Data) {
		return unmarshalNotes(envelope.Data)
	}
	var inner struct {
		List    json.RawMessage `json:"list"`
		Records json.RawMessage `json:"records"`
	}
	if isObject(envelope.Data) {
		if err := json.Unmarshal(envelope.Data, &inner); err != nil {
			return nil, fmt.Errorf("decode notes: %w", err)
		}
		if isArray(inner.List) {
			return unmarshalNotes(inner.List)
		}
		if isArray(inner.Records) {
			return unmarshalNotes(inner.Records)
		}
	}
	if isArray(envelope.List) {
		return unmarshalNotes(envelope.List)
	}
	// An explicit null in place of the array is an empty feed.
	if isNull(envelope.Data) || isNull(inner.List) || isNull(inner.Records) || isNull(envelope.List) {
		return []models.RemoteNote{}, nil
	}
	return nil, errNoNoteArray
}

func unmarshalNotes(raw []byte) ([]models.RemoteNote, error) {
	var notes []models.RemoteNote
	if err := json.Unmarshal(raw, &notes); err != nil {
		return nil, fmt.Errorf("decode notes: %w", err)
	}
	return notes, nil
}

func isArray(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '['
}

func isObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '{'
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
