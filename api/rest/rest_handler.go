package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/zlnvch/sketchroom/models"
	"github.com/zlnvch/sketchroom/service"
	"github.com/zlnvch/sketchroom/store"
	"go.uber.org/zap"
)

// RoomClearer clears a room on whichever instance hosts it.
type RoomClearer interface {
	RequestClear(ctx context.Context, roomId string) error
}

type Handler struct {
	Service      *service.Service
	ArchiveStore store.ArchiveStore // nil when the archive is disabled
	clearer      RoomClearer
	logger       *zap.Logger
}

func NewHandler(svc *service.Service, archiveStore store.ArchiveStore, clearer RoomClearer, logger *zap.Logger) *Handler {
	return &Handler{
		Service:      svc,
		ArchiveStore: archiveStore,
		clearer:      clearer,
		logger:       logger.Named("rest"),
	}
}

type roomSummary struct {
	RoomId        string `json:"roomId"`
	RoomSessionId string `json:"roomSessionId"`
	Members       int    `json:"members"`
	ActiveStrokes int    `json:"activeStrokes"`
}

type listRoomsResponse struct {
	InstanceId string         `json:"instanceId"`
	Rooms      []roomSummary  `json:"rooms"`
	Directory  map[string]int `json:"directory,omitempty"`
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleListRooms lists the rooms hosted here and, in cluster mode, the
// member counts of every room in the cluster.
func (h *Handler) HandleListRooms(w http.ResponseWriter, r *http.Request) {
	resp := listRoomsResponse{
		InstanceId: h.Service.InstanceId,
		Rooms:      make([]roomSummary, 0),
	}

	for _, roomId := range h.Service.Rooms.RoomIds() {
		snapshot, ok := h.Service.Rooms.Snapshot(roomId)
		if !ok {
			continue // closed since RoomIds
		}
		resp.Rooms = append(resp.Rooms, roomSummary{
			RoomId:        snapshot.Id,
			RoomSessionId: snapshot.SessionId,
			Members:       len(snapshot.Users),
			ActiveStrokes: snapshot.ActiveStrokes,
		})
	}

	if h.Service.Cache != nil {
		directory, err := h.Service.Cache.ListRooms(r.Context())
		if err != nil {
			h.logger.Warn("failed to read room directory", zap.Error(err))
		} else {
			resp.Directory = directory
		}
	}

	h.sendResponse(w, http.StatusOK, resp)
}

// HandleGetRoom never creates the room it is asked about.
func (h *Handler) HandleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["roomId"]

	snapshot, ok := h.Service.Rooms.Snapshot(roomId)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	h.sendResponse(w, http.StatusOK, snapshot)
}

func (h *Handler) HandleClearRoom(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["roomId"]

	if err := h.clearer.RequestClear(r.Context(), roomId); err != nil {
		h.logger.Error("clear request failed", zap.String("roomId", roomId), zap.Error(err))
		http.Error(w, "clear request failed", http.StatusInternalServerError)
		return
	}
	h.sendResponse(w, http.StatusAccepted, map[string]string{"roomId": roomId})
}

func (h *Handler) HandleListRoomSessions(w http.ResponseWriter, r *http.Request) {
	if h.ArchiveStore == nil {
		http.Error(w, "archive disabled", http.StatusNotImplemented)
		return
	}
	roomId := mux.Vars(r)["roomId"]

	sessions, err := h.ArchiveStore.GetRoomSessions(r.Context(), roomId)
	if err != nil {
		h.logger.Error("GetRoomSessions failed", zap.String("roomId", roomId), zap.Error(err))
		http.Error(w, "failed to load room sessions", http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []models.RoomSession{}
	}
	h.sendResponse(w, http.StatusOK, sessions)
}

func (h *Handler) HandleGetJournal(w http.ResponseWriter, r *http.Request) {
	if h.ArchiveStore == nil {
		http.Error(w, "archive disabled", http.StatusNotImplemented)
		return
	}
	sessionId := mux.Vars(r)["sessionId"]

	entries, err := h.ArchiveStore.GetJournal(r.Context(), sessionId)
	if errors.Is(err, store.ErrItemNotFound) {
		http.Error(w, "journal not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("GetJournal failed", zap.String("roomSessionId", sessionId), zap.Error(err))
		http.Error(w, "failed to load journal", http.StatusInternalServerError)
		return
	}
	h.sendResponse(w, http.StatusOK, entries)
}

func (h *Handler) sendResponse(w http.ResponseWriter, status int, resp any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}
