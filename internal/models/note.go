// Package models defines the domain types shared across the sync pipeline.
package models

import (
	"encoding/json"
	"time"
)

// NoteType is the Blinko note kind.
type NoteType int

const (
	TypeFlash NoteType = 0
	TypeNote  NoteType = 1
	TypeTodo  NoteType = 2
)

// String returns the lowercase name written to frontmatter.
func (t NoteType) String() string {
	switch t {
	case TypeNote:
		return "note"
	case TypeTodo:
		return "todo"
	default:
		return "flash"
	}
}

// Normalize maps unknown codes to the default type.
func (t NoteType) Normalize() NoteType {
	switch t {
	case TypeFlash, TypeNote, TypeTodo:
		return t
	default:
		return TypeFlash
	}
}

// Tag is one node of a note's tag forest.
type Tag struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Parent int64  `json:"parent"`
}

// UnmarshalJSON accepts both the flat shape and Blinko's {"tag": {...}} wrapper.
func (t *Tag) UnmarshalJSON(data []byte) error {
	type flat Tag
	var wrapped struct {
		Tag *flat `json:"tag"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Tag != nil {
		*t = Tag(*wrapped.Tag)
		return nil
	}
	var f flat
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*t = Tag(f)
	return nil
}

// Attachment is a file attached to a remote note.
type Attachment struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// RemoteNote is a note as returned by the Blinko API.
type RemoteNote struct {
	ID          int64        `json:"id"`
	Title       string       `json:"title,omitempty"`
	Content     string       `json:"content"`
	Type        NoteType     `json:"type"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	IsRecycle   bool         `json:"isRecycle"`
	Tags        []Tag        `json:"tags,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// UnmarshalJSON tolerates Blinko's size field arriving as a string.
func (a *Attachment) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID   int64           `json:"id"`
		Name string          `json:"name"`
		Path string          `json:"path"`
		Type string          `json:"type"`
		Size json.RawMessage `json:"size"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.ID, a.Name, a.Path, a.Type = raw.ID, raw.Name, raw.Path, raw.Type
	a.Size = 0
	// json.Number decodes both 123 and "123".
	var n json.Number
	if len(raw.Size) > 0 && json.Unmarshal(raw.Size, &n) == nil {
		a.Size, _ = n.Int64()
	}
	return nil
}

// JournalEntry is emitted for each newly materialized default-type note.
type JournalEntry struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	FilePath  string    `json:"filePath"`
	Type      NoteType  `json:"type"`
}

// MaterializeResult is returned for each note written to the vault.
type MaterializeResult struct {
	Attachments []string `json:"attachments"`
	FilePath    string   `json:"filePath"`
	// PreviousPath is set when an existing file was renamed to FilePath.
	PreviousPath string `json:"previousPath,omitempty"`
}

// Layout describes where materialized notes and attachments live inside the vault.
// All paths are vault-relative and slash-separated.
type Layout struct {
	NoteFolder       string
	AttachmentFolder string
	PathTemplate     string
	TypeFolders      map[NoteType]string
	Location         *time.Location
}

// TypeFolder returns the folder name configured for t.
func (l Layout) TypeFolder(t NoteType) string {
	if name, ok := l.TypeFolders[t.Normalize()]; ok && name != "" {
		return name
	}
	switch t.Normalize() {
	case TypeNote:
		return "Notes"
	case TypeTodo:
		return "Todo"
	default:
		return "Flash"
	}
}

// Loc returns the configured location, falling back to time.Local.
func (l Layout) Loc() *time.Location {
	if l.Location == nil {
		return time.Local
	}
	return l.Location
}

// NoteMetadata is a lightweight representation returned by list operations.
type NoteMetadata struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}
