package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/starford/clipshelf/internal/capture"
	"github.com/starford/clipshelf/internal/checksum"
	"github.com/starford/clipshelf/internal/clipservice"
	"github.com/starford/clipshelf/internal/models"
	"github.com/starford/clipshelf/internal/thumbnail"
)

// DefaultMaxUploadBytes caps multipart request bodies when no limit is configured.
const DefaultMaxUploadBytes = 50 << 20

// Handler holds clip route handlers.
type Handler struct {
	svc       *clipservice.Service
	maxUpload int64
}

// NewHandler creates a new Handler.
func NewHandler(svc *clipservice.Service, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &Handler{svc: svc, maxUpload: maxUpload}
}

// ListClips handles GET /api/clips.
//
//	@Summary		Search clips by date range, tags and servers
//	@Tags			clips
//	@Produce		json
//	@Param			from		query		string	false	"Created after this day (YYYY-MM-DD, exclusive of its midnight)"
//	@Param			to			query		string	false	"Created on or before this day (YYYY-MM-DD)"
//	@Param			tag			query		string	false	"Tag name, repeatable; any match qualifies"
//	@Param			server		query		int		false	"Server id, repeatable"
//	@Param			group		query		string	false	"Group by creation day"	Enums(day)
//	@Success		200			{object}	ClipListResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/clips [get]
func (h *Handler) ListClips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c, err := parseCriteria(q)
	if err != nil {
		writeError(w, "list clips", err)
		return
	}
	grouped, err := wantGroups(q)
	if err != nil {
		writeError(w, "list clips", err)
		return
	}
	clips, err := h.svc.Search(r.Context(), c)
	if err != nil {
		writeError(w, "list clips", err)
		return
	}
	writeClips(w, http.StatusOK, clips, grouped)
}

// SearchClips handles POST /api/clips/search (multipart/form-data).
// The optional "image" file narrows results to perceptually similar images.
//
//	@Summary		Search clips, optionally by a query image
//	@Tags			clips
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			image		formData	file	false	"Query image"
//	@Param			threshold	formData	int		false	"Max Hamming distance (0-64, default 15)"
//	@Success		200			{object}	ClipListResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/clips/search [post]
func (h *Handler) SearchClips(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	values := r.MultipartForm.Value
	c, err := parseCriteria(values)
	if err != nil {
		writeError(w, "search clips", err)
		return
	}
	grouped, err := wantGroups(values)
	if err != nil {
		writeError(w, "search clips", err)
		return
	}

	var clips []models.Clip
	if fhs := r.MultipartForm.File["image"]; len(fhs) > 0 {
		data, readErr := readPart(fhs[0])
		if readErr != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("failed to read image"))
			return
		}
		clips, err = h.svc.SearchByImageData(r.Context(), c, data)
	} else {
		clips, err = h.svc.Search(r.Context(), c)
	}
	if err != nil {
		writeError(w, "search clips", err)
		return
	}
	writeClips(w, http.StatusOK, clips, grouped)
}

// IngestClips handles POST /api/clips (multipart/form-data).
//
//	@Summary		Add clips
//	@Tags			clips
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file		formData	file	true	"Payload, repeatable"
//	@Param			tag			formData	string	false	"Tag name, repeatable"
//	@Param			description	formData	string	false	"Description for every clip"
//	@Success		201			{object}	ClipListResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/clips [post]
func (h *Handler) IngestClips(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	fhs := r.MultipartForm.File["file"]
	if len(fhs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	items := make([]models.RawClip, 0, len(fhs))
	for _, fh := range fhs {
		data, err := readPart(fh)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(fmt.Sprintf("failed to read %s", fh.Filename)))
			return
		}
		items = append(items, capture.FromBytes(fh.Filename, data))
	}
	tags := clipservice.NormalizeTags(splitList(r.MultipartForm.Value["tag"]))
	description := strings.TrimSpace(r.FormValue("description"))

	clips, err := h.svc.Ingest(r.Context(), items, tags, description)
	if err != nil {
		writeError(w, "ingest clips", err)
		return
	}
	writeJSON(w, http.StatusCreated, ClipListResponse{Clips: clips})
}

// GetClip handles GET /api/clips/{id}.
//
//	@Summary		Get a single clip
//	@Tags			clips
//	@Produce		json
//	@Param			id	path		int	true	"Clip id"
//	@Success		200	{object}	models.Clip
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/clips/{id} [get]
func (h *Handler) GetClip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid clip id"))
		return
	}
	clip, err := h.svc.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, "get clip", err)
		return
	}
	writeJSON(w, http.StatusOK, clip)
}

// UpdateClip handles PUT /api/clips/{id}.
//
//	@Summary		Replace a clip's description and tags
//	@Tags			clips
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int					true	"Clip id"
//	@Param			body	body		UpdateClipRequest	true	"New description and tags"
//	@Success		200		{object}	models.Clip
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/clips/{id} [put]
func (h *Handler) UpdateClip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid clip id"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req UpdateClipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	err := h.svc.Update(r.Context(), models.Clip{
		ID:          id,
		Description: req.Description,
		Tags:        clipservice.NormalizeTags(req.Tags),
	})
	if err != nil {
		writeError(w, "update clip", err)
		return
	}
	clip, err := h.svc.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, "update clip", err)
		return
	}
	writeJSON(w, http.StatusOK, clip)
}

// DeleteClip handles DELETE /api/clips/{id}. Unknown ids also answer 204.
//
//	@Summary		Remove a clip
//	@Tags			clips
//	@Param			id	path	int	true	"Clip id"
//	@Success		204	"Clip removed"
//	@Security		BearerAuth
//	@Router			/clips/{id} [delete]
func (h *Handler) DeleteClip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid clip id"))
		return
	}
	if err := h.svc.Remove(r.Context(), id); err != nil {
		writeError(w, "delete clip", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CleanClips handles DELETE /api/clips.
//
//	@Summary		Remove every clip
//	@Tags			clips
//	@Success		204	"Archive emptied"
//	@Security		BearerAuth
//	@Router			/clips [delete]
func (h *Handler) CleanClips(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Clean(r.Context()); err != nil {
		writeError(w, "clean clips", err)
		return
	}
	slog.Info("archive cleaned")
	w.WriteHeader(http.StatusNoContent)
}

// Thumbnail handles GET /api/clips/{id}/thumbnail. Clips without a preview
// get the generic file icon.
func (h *Handler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid clip id"))
		return
	}
	clip, err := h.svc.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, "thumbnail", err)
		return
	}
	body, contentType := clip.Thumbnail, "image/jpeg"
	if len(body) == 0 {
		body, contentType = thumbnail.UnknownFileIcon, thumbnail.UnknownFileIconType
	}
	etag := checksum.ETag(body)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// Content handles GET /api/clips/{id}/content and streams the original payload.
func (h *Handler) Content(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid clip id"))
		return
	}
	clip, err := h.svc.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, "content", err)
		return
	}
	data, err := h.svc.Payload(r.Context(), id)
	if err != nil {
		writeError(w, "content", err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", clip.Name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ListTags handles GET /api/tags.
//
//	@Summary		List the tag directory
//	@Tags			tags
//	@Produce		json
//	@Success		200	{object}	TagListResponse
//	@Security		BearerAuth
//	@Router			/tags [get]
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.svc.Tags(r.Context())
	if err != nil {
		writeError(w, "list tags", err)
		return
	}
	writeJSON(w, http.StatusOK, TagListResponse{Tags: tags})
}

func writeClips(w http.ResponseWriter, status int, clips []models.Clip, grouped bool) {
	if grouped {
		writeJSON(w, status, GroupListResponse{Groups: clipservice.GroupByCreationDate(clips)})
		return
	}
	writeJSON(w, status, ClipListResponse{Clips: clips})
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
