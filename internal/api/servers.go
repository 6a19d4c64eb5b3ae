package api

import (
	"encoding/json"
	"net/http"

	"github.com/starford/clipshelf/internal/models"
	"github.com/starford/clipshelf/internal/uploader"
)

// ServerHandler holds upload server route handlers.
type ServerHandler struct {
	svc *uploader.Service
}

// NewServerHandler creates a handler over the upload service.
func NewServerHandler(svc *uploader.Service) *ServerHandler {
	return &ServerHandler{svc: svc}
}

// ListServers handles GET /api/servers.
//
//	@Summary		List upload servers and available protocols
//	@Tags			servers
//	@Produce		json
//	@Success		200	{object}	ServerListResponse
//	@Security		BearerAuth
//	@Router			/servers [get]
func (h *ServerHandler) ListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.svc.GetAll(r.Context())
	if err != nil {
		writeError(w, "list servers", err)
		return
	}
	writeJSON(w, http.StatusOK, ServerListResponse{
		Servers:   servers,
		Protocols: h.svc.Registry().Protocols(),
	})
}

func decodeServer(w http.ResponseWriter, r *http.Request) (*models.Server, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req ServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return nil, false
	}
	enabled := true
	if req.UploadEnabled != nil {
		enabled = *req.UploadEnabled
	}
	return &models.Server{
		Name:          req.Name,
		Protocol:      req.Protocol,
		Settings:      req.Settings,
		UploadEnabled: enabled,
		OutputFormat:  req.OutputFormat,
	}, true
}

// CreateServer handles POST /api/servers.
//
//	@Summary		Add an upload server
//	@Tags			servers
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ServerRequest	true	"Server definition"
//	@Success		201		{object}	models.Server
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/servers [post]
func (h *ServerHandler) CreateServer(w http.ResponseWriter, r *http.Request) {
	srv, ok := decodeServer(w, r)
	if !ok {
		return
	}
	if err := h.svc.Append(r.Context(), srv); err != nil {
		writeError(w, "create server", err)
		return
	}
	writeJSON(w, http.StatusCreated, srv)
}

// UpdateServer handles PUT /api/servers/{id}.
func (h *ServerHandler) UpdateServer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid server id"))
		return
	}
	srv, ok := decodeServer(w, r)
	if !ok {
		return
	}
	srv.ID = id
	if err := h.svc.Update(r.Context(), srv); err != nil {
		writeError(w, "update server", err)
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

// DeleteServer handles DELETE /api/servers/{id}.
func (h *ServerHandler) DeleteServer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid server id"))
		return
	}
	if err := h.svc.Remove(r.Context(), id); err != nil {
		writeError(w, "delete server", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadClip handles POST /api/clips/{id}/uploads/{serverID}.
//
//	@Summary		Publish a clip to a server
//	@Tags			servers
//	@Produce		json
//	@Param			id			path		int	true	"Clip id"
//	@Param			serverID	path		int	true	"Server id"
//	@Success		201			{object}	models.Upload
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/clips/{id}/uploads/{serverID} [post]
func (h *ServerHandler) UploadClip(w http.ResponseWriter, r *http.Request) {
	clipID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid clip id"))
		return
	}
	serverID, ok := pathID(r, "serverID")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid server id"))
		return
	}
	rec, err := h.svc.UploadClip(r.Context(), clipID, serverID)
	if err != nil {
		writeError(w, "upload clip", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ListUploads handles GET /api/clips/{id}/uploads.
func (h *ServerHandler) ListUploads(w http.ResponseWriter, r *http.Request) {
	clipID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid clip id"))
		return
	}
	ups, err := h.svc.UploadsOf(r.Context(), clipID)
	if err != nil {
		writeError(w, "list uploads", err)
		return
	}
	if ups == nil {
		ups = []models.Upload{}
	}
	writeJSON(w, http.StatusOK, UploadListResponse{Uploads: ups})
}
