// Package models defines the domain types for Clipshelf.
package models

import "time"

// Clip is a persisted captured item (image or file reference) with metadata.
// PHash is only meaningful when IsImage is set; 0 means no hash was computed.
type Clip struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	IsImage     bool      `json:"is_image"`
	IsFile      bool      `json:"is_file"`
	PHash       uint64    `json:"phash"`
	Thumbnail   []byte    `json:"-"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	Tags        []string  `json:"tags"`
}

// RawClip is a candidate item produced by a capture source before it is persisted.
// File-backed items carry Path; in-memory items carry Data.
type RawClip struct {
	Name    string
	IsImage bool
	IsFile  bool
	Path    string
	Data    []byte
}

// Tag is a directory entry. Names are unique.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// DateGroup is one run of clips created on the same calendar day.
type DateGroup struct {
	Date  time.Time `json:"date"`
	Clips []Clip    `json:"clips"`
}

// ClipEvent kinds.
const (
	ClipCreated    = "created"
	ClipUpdated    = "updated"
	ClipDeleted    = "deleted"
	ArchiveCleaned = "cleaned"
)

// ClipEvent describes a committed change to the archive. CreatedAt and Tags
// describe the clip after the change, or as it was for ClipDeleted. Both are
// zero for ArchiveCleaned.
type ClipEvent struct {
	Kind      string
	ClipID    int64
	CreatedAt time.Time
	Tags      []string
}
