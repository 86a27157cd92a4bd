// Package storage defines the vault file-system abstraction.
package storage

import "github.com/double-tu/blinko-to-obsidian/internal/models"

// Provider is the interface for vault file operations. All paths are
// relative to the vault root and slash-separated.
type Provider interface {
	// List returns metadata for every .md file under dir.
	List(dir string) ([]models.NoteMetadata, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write replaces the file at path, creating parent folders and removing
	// a directory that occupies the target.
	Write(path string, content []byte) error
	// Exists reports whether a regular file exists at path.
	Exists(path string) (bool, error)
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
}
