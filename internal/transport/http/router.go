package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

const (
	qrSize = 320

	defaultResultsLimit = 10
	maxResultsLimit     = 50
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Service *app.GameService
	Hub     *Hub
	Auth    *HostAuth
	// PublicURL is the base players open to join. Derived from the request when empty.
	PublicURL string
	Version   string
	// Results serves /rooms/:code/results. The route is absent when nil.
	Results app.ResultHistory
}

// NewRouter registers every endpoint of the service.
func NewRouter(cfg RouterConfig) *httprouter.Router {
	ws := NewWSHandler(cfg.Service, cfg.Hub, cfg.Auth)
	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		log.Error().Interface("panic", v).Str("path", r.URL.Path).Msg("handler panic")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}

	mux.HandlerFunc(http.MethodGet, "/ws", ws.ServeWS)
	mux.GET("/healthz", serveHealthCheck(cfg.Service))
	mux.GET("/version", serveVersion(cfg.Version))
	mux.GET("/rooms/:code", serveRoomState(cfg.Service))
	mux.GET("/rooms/:code/qr", serveRoomQR(cfg.Service, cfg.PublicURL))
	if cfg.Results != nil {
		mux.GET("/rooms/:code/results", serveRoomResults(cfg.Results))
	}
	mux.POST("/host/login", cfg.Auth.Login)
	mux.POST("/host/logout", cfg.Auth.Logout)
	return mux
}

func serveHealthCheck(service *app.GameService) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"rooms":  service.RoomCount(),
		})
	}
}

func serveVersion(version string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("live-quiz-service v" + version + "\n"))
	}
}

func serveRoomState(service *app.GameService) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		state, err := service.RoomState(r.Context(), ps.ByName("code"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

// serveRoomQR renders a PNG QR code of the join URL for a room.
func serveRoomQR(service *app.GameService, publicURL string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		state, err := service.RoomState(r.Context(), ps.ByName("code"))
		if err != nil {
			writeError(w, err)
			return
		}

		png, err := qrcode.Encode(joinURL(r, publicURL, state.Code), qrcode.Medium, qrSize)
		if err != nil {
			log.Error().Err(err).Str("room", state.Code).Msg("qr generation failed")
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(png)
	}
}

// serveRoomResults lists archived games of a room, newest first. The room does
// not need to be live.
func serveRoomResults(history app.ResultHistory) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		limit := defaultResultsLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, ackPayload{OK: false, Error: "invalid limit"})
				return
			}
			limit = min(n, maxResultsLimit)
		}

		code := domain.NormalizeCode(ps.ByName("code"))
		games, err := history.RecentGames(r.Context(), code, limit)
		if err != nil {
			log.Error().Err(err).Str("room", code).Msg("load game results failed")
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"code":  code,
			"games": games,
		})
	}
}

func joinURL(r *http.Request, publicURL, code string) string {
	base := strings.TrimSuffix(publicURL, "/")
	if base == "" {
		scheme := "http"
		if isHTTPS(r) {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return base + "/?code=" + url.QueryEscape(code)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, domain.ErrRoomNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, ackPayload{OK: false, Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response failed")
	}
}
