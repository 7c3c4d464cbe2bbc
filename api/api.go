package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/zlnvch/sketchroom/api/rest"
	"github.com/zlnvch/sketchroom/api/ws"
	"github.com/zlnvch/sketchroom/config"
	"github.com/zlnvch/sketchroom/service"
	"github.com/zlnvch/sketchroom/store"
	"go.uber.org/zap"
)

type SketchroomAPI struct {
	restHandler *rest.Handler
	wsHandler   *ws.Handler
	Hub         *ws.Hub
	shutdownCtx context.Context
	logger      *zap.Logger
}

// NewSketchroomAPI starts the hub and returns the HTTP surface bound to svc.
// archiveStore may be nil.
func NewSketchroomAPI(
	svc *service.Service,
	archiveStore store.ArchiveStore,
	wsCfg config.WSConfig,
	shutdownCtx context.Context,
	logger *zap.Logger,
) (*SketchroomAPI, error) {
	wsHub := ws.NewHub(svc, svc.Cache, logger)
	if err := wsHub.InitSubscriptions(shutdownCtx); err != nil {
		return nil, err
	}
	go wsHub.Run(shutdownCtx)

	return &SketchroomAPI{
		restHandler: rest.NewHandler(svc, archiveStore, wsHub, logger),
		wsHandler:   ws.NewHandler(svc, wsHub, wsCfg, logger),
		Hub:         wsHub,
		shutdownCtx: shutdownCtx,
		logger:      logger,
	}, nil
}

func (sketchroomAPI *SketchroomAPI) Router(allowedOrigins []string) *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestLogger(sketchroomAPI.logger.Named("http")), Recoverer(sketchroomAPI.logger.Named("http")))

	router.HandleFunc("/health", sketchroomAPI.restHandler.HandleHealth).Methods(http.MethodGet)

	router.HandleFunc("/rooms", sketchroomAPI.restHandler.HandleListRooms).Methods(http.MethodGet)
	router.HandleFunc("/rooms/{roomId}", sketchroomAPI.restHandler.HandleGetRoom).Methods(http.MethodGet)
	router.HandleFunc("/rooms/{roomId}/clear", sketchroomAPI.restHandler.HandleClearRoom).Methods(http.MethodPost)
	router.HandleFunc("/rooms/{roomId}/sessions", sketchroomAPI.restHandler.HandleListRoomSessions).Methods(http.MethodGet)
	router.HandleFunc("/rooms/{roomId}/sessions/{sessionId}/journal", sketchroomAPI.restHandler.HandleGetJournal).Methods(http.MethodGet)

	wsUpgrader := sketchroomAPI.wsHandler.NewWsUpgrader(allowedOrigins)
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		sketchroomAPI.wsHandler.ServeWS(wsUpgrader, w, r, sketchroomAPI.shutdownCtx)
	}).Methods(http.MethodGet)

	return router
}
