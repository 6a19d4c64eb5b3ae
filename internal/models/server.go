package models

import "time"

// Server is an upload destination handled by a named protocol.
type Server struct {
	ID            int64             `json:"id"`
	Name          string            `json:"name"`
	Protocol      string            `json:"protocol"`
	Settings      map[string]string `json:"settings"`
	UploadEnabled bool              `json:"upload_enabled"`
	// OutputFormat re-encodes image clips before they are uploaded: png,
	// jpeg or gif. Empty sends the original bytes.
	OutputFormat string `json:"output_format"`
}

// Upload records that a clip was published to a server.
type Upload struct {
	ID        int64     `json:"id"`
	ClipID    int64     `json:"clip_id"`
	ServerID  int64     `json:"server_id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}
