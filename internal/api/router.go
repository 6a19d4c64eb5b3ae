package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/clipshelf/internal/clipservice"
	"github.com/starford/clipshelf/internal/uploader"
)

// RouterConfig carries what NewRouter needs beyond the services.
type RouterConfig struct {
	AuthEnabled bool
	Token       string
	// MaxUploadBytes caps multipart bodies; 0 means DefaultMaxUploadBytes.
	MaxUploadBytes int64
	// Events, if non-nil, is mounted at GET /events inside the auth group.
	Events http.Handler
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(clips *clipservice.Service, uploads *uploader.Service, cfg RouterConfig) chi.Router {
	h := NewHandler(clips, cfg.MaxUploadBytes)
	sh := NewServerHandler(uploads)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(cfg.AuthEnabled, cfg.Token))

	// Clips.
	r.Get("/clips", h.ListClips)
	r.Post("/clips", h.IngestClips)
	r.Delete("/clips", h.CleanClips)
	r.Post("/clips/search", h.SearchClips)
	r.Get("/clips/{id}", h.GetClip)
	r.Put("/clips/{id}", h.UpdateClip)
	r.Delete("/clips/{id}", h.DeleteClip)
	r.Get("/clips/{id}/thumbnail", h.Thumbnail)
	r.Get("/clips/{id}/content", h.Content)

	// Tags.
	r.Get("/tags", h.ListTags)

	// Servers and publishing.
	r.Get("/servers", sh.ListServers)
	r.Post("/servers", sh.CreateServer)
	r.Put("/servers/{id}", sh.UpdateServer)
	r.Delete("/servers/{id}", sh.DeleteServer)
	r.Get("/clips/{id}/uploads", sh.ListUploads)
	r.Post("/clips/{id}/uploads/{serverID}", sh.UploadClip)

	// SSE endpoint (protected by same auth middleware).
	if cfg.Events != nil {
		r.Get("/events", cfg.Events.ServeHTTP)
	}

	return r
}
