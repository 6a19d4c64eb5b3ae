package api

import (
	"github.com/starford/clipshelf/internal/models"
)

// UpdateClipRequest is the request body for PUT /clips/{id}. Tags replace
// the current set entirely.
type UpdateClipRequest struct {
	Description string   `json:"description" example:"whiteboard after standup"`
	Tags        []string `json:"tags" example:"work,meeting"`
}

// ClipListResponse wraps a flat clip listing, newest first.
type ClipListResponse struct {
	Clips []models.Clip `json:"clips" validate:"required"`
}

// GroupListResponse wraps clips partitioned by creation day.
type GroupListResponse struct {
	Groups []models.DateGroup `json:"groups" validate:"required"`
}

// TagListResponse wraps the tag directory.
type TagListResponse struct {
	Tags []models.Tag `json:"tags" validate:"required"`
}

// ServerRequest is the request body for creating or replacing a server.
type ServerRequest struct {
	Name          string            `json:"name" example:"team-bucket" validate:"required"`
	Protocol      string            `json:"protocol" example:"s3" validate:"required"`
	Settings      map[string]string `json:"settings"`
	UploadEnabled *bool             `json:"upload_enabled,omitempty"`
	OutputFormat  string            `json:"output_format,omitempty" example:"jpeg"`
}

// ServerListResponse wraps configured servers and the available protocols.
type ServerListResponse struct {
	Servers   []models.Server `json:"servers" validate:"required"`
	Protocols []string        `json:"protocols" validate:"required"`
}

// UploadListResponse wraps the publication history of a clip.
type UploadListResponse struct {
	Uploads []models.Upload `json:"uploads" validate:"required"`
}
