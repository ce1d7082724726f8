package handler

import (
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"stagehand/internal/codec"
	"stagehand/internal/service"
	"stagehand/internal/state"
)

// maxBodySize caps request bodies
const maxBodySize = 1 << 20

// RoomHandler handles room API requests
type RoomHandler struct {
	room *service.Room
	log  *zap.Logger
}

// NewRoomHandler creates a new room handler
func NewRoomHandler(room *service.Room, log *zap.Logger) *RoomHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &RoomHandler{room: room, log: log.Named("http")}
}

// Register adds the room API routes to mux
func (h *RoomHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.Health)
	mux.HandleFunc("GET /api/snapshot", h.GetSnapshot)

	mux.HandleFunc("GET /api/members", h.ListMembers)
	mux.HandleFunc("POST /api/members", h.CreateMember)
	mux.HandleFunc("GET /api/members/{id}", h.GetMember)
	mux.HandleFunc("PATCH /api/members/{id}", h.StageMember)
	mux.HandleFunc("DELETE /api/members/{id}", h.DeleteMember)

	mux.HandleFunc("GET /api/pending", h.GetPending)
	mux.HandleFunc("DELETE /api/pending", h.DiscardPending)
	mux.HandleFunc("POST /api/commit", h.Commit)

	mux.HandleFunc("GET /api/export", h.Export)
	mux.HandleFunc("POST /api/import", h.Import)
}

// Health reports the room's name and sequence
func (h *RoomHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.log, map[string]any{
		"status": "ok",
		"room":   h.room.Name(),
		"seq":    h.room.Seq(),
	}, http.StatusOK)
}

// GetSnapshot returns the committed data as a snapshot frame
func (h *RoomHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	frame, err := h.room.Snapshot()
	if err != nil {
		h.log.Error("failed to build snapshot", zap.Error(err))
		writeError(w, h.log, "Failed to build snapshot", err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.log, frame, http.StatusOK)
}

// ListMembers returns every member's committed data keyed by id
func (h *RoomHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.log, h.room.Members(), http.StatusOK)
}

// GetMember returns one member's committed data
func (h *RoomHandler) GetMember(w http.ResponseWriter, r *http.Request) {
	id, ok := h.memberID(w, r)
	if !ok {
		return
	}
	data, err := h.room.Member(id)
	if err != nil {
		h.fail(w, "Failed to get member", err)
		return
	}
	writeJSON(w, h.log, data, http.StatusOK)
}

// CreateMember stages a new member. The body is the member's data; an id
// query parameter picks the id instead of the next free one.
func (h *RoomHandler) CreateMember(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readRecord(w, r)
	if !ok {
		return
	}
	if data == nil {
		data = state.Record{}
	}

	var id int
	var err error
	if raw := r.URL.Query().Get("id"); raw != "" {
		id, err = strconv.Atoi(raw)
		if err != nil || id < 0 {
			writeError(w, h.log, "Invalid member ID", "id must be a non-negative integer", http.StatusBadRequest)
			return
		}
		err = h.room.MintMember(id, data)
	} else {
		id, err = h.room.CreateMember(data)
	}
	if err != nil {
		h.fail(w, "Failed to create member", err)
		return
	}

	writeJSON(w, h.log, map[string]int{"id": id}, http.StatusCreated)
}

// StageMember applies a JSON merge patch to a member's staged data
func (h *RoomHandler) StageMember(w http.ResponseWriter, r *http.Request) {
	id, ok := h.memberID(w, r)
	if !ok {
		return
	}
	patch, ok := h.readRecord(w, r)
	if !ok {
		return
	}
	if err := h.room.StageMember(id, patch); err != nil {
		h.fail(w, "Failed to stage member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteMember stages a member's removal
func (h *RoomHandler) DeleteMember(w http.ResponseWriter, r *http.Request) {
	id, ok := h.memberID(w, r)
	if !ok {
		return
	}
	if err := h.room.DeleteMember(id); err != nil {
		h.fail(w, "Failed to delete member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPending returns the update the next commit would send
func (h *RoomHandler) GetPending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.log, map[string]any{"update": h.room.Pending()}, http.StatusOK)
}

// DiscardPending drops every staged edit
func (h *RoomHandler) DiscardPending(w http.ResponseWriter, r *http.Request) {
	h.room.Discard()
	w.WriteHeader(http.StatusNoContent)
}

// Commit applies staged edits and returns the update frame. Nothing staged
// yields 204.
func (h *RoomHandler) Commit(w http.ResponseWriter, r *http.Request) {
	frame, err := h.room.Commit(r.Context())
	if err != nil {
		h.fail(w, "Failed to commit", err)
		return
	}
	if frame == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, h.log, frame, http.StatusOK)
}

// Export writes the committed members as a seed file (format=json|yaml)
func (h *RoomHandler) Export(w http.ResponseWriter, r *http.Request) {
	c, ok := h.codecFor(w, r)
	if !ok {
		return
	}
	contentType := "application/json"
	if c.Format() == "yaml" {
		contentType = "application/x-yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+h.room.Name()+"."+c.Format())

	if err := c.Export(h.room.Export(), w); err != nil {
		// Can't write error response as we already set headers
		h.log.Error("failed to export", zap.String("format", c.Format()), zap.Error(err))
	}
}

// Import stages the body's seed as a full replacement of the members
func (h *RoomHandler) Import(w http.ResponseWriter, r *http.Request) {
	c, ok := h.codecFor(w, r)
	if !ok {
		return
	}
	seed, err := c.Parse(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, h.log, "Invalid seed", err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.room.Reseed(seed); err != nil {
		h.fail(w, "Failed to import", err)
		return
	}
	writeJSON(w, h.log, map[string]any{"members": len(seed.Members), "pending": h.room.Pending() != nil}, http.StatusAccepted)
}

// Helper methods

func (h *RoomHandler) memberID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 0 {
		writeError(w, h.log, "Invalid member ID", "Member ID must be a non-negative integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *RoomHandler) readRecord(w http.ResponseWriter, r *http.Request) (state.Record, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, h.log, "Failed to read request body", err.Error(), http.StatusBadRequest)
		return nil, false
	}
	data, err := codec.DecodeRecord(body)
	if err != nil {
		writeError(w, h.log, "Invalid request body", err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return data, true
}

func (h *RoomHandler) codecFor(w http.ResponseWriter, r *http.Request) (codec.Codec, bool) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	c, err := codec.ForFormat(format)
	if err != nil {
		writeError(w, h.log, "Unsupported format", err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return c, true
}

func (h *RoomHandler) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error(msg, zap.Error(err))
	}
	writeError(w, h.log, msg, err.Error(), status)
}
