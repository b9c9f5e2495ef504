// Package admin exposes the operator HTTP surface: health, Prometheus
// metrics, the engine snapshot, and moderation actions. Admin routes are
// guarded by a shared token compared in constant time.
package admin

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sayra/lingomatch/internal/engine"
	"github.com/sayra/lingomatch/internal/metrics"
)

const tokenHeader = "X-Admin-Token"

// actionRequest is the POST /admin/action body.
type actionRequest struct {
	Action   string `json:"action"` // kick, mute, ban_client, ban_ip
	ConnID   string `json:"connId,omitempty"`
	ClientID string `json:"clientId,omitempty"`
	IP       string `json:"ip,omitempty"`
	Minutes  int    `json:"minutes,omitempty"`
}

// API serves the admin routes over one engine.
type API struct {
	engine *engine.Engine
	token  string
	uptime func() time.Duration
	log    zerolog.Logger
}

// New creates the admin API. uptime feeds the health response.
func New(eng *engine.Engine, token string, uptime func() time.Duration, logger zerolog.Logger) *API {
	return &API{
		engine: eng,
		token:  token,
		uptime: uptime,
		log:    logger.With().Str("component", "admin").Logger(),
	}
}

// Register mounts all routes on the mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", a.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/admin/stats", a.guard(a.handleStats))
	mux.HandleFunc("/admin/action", a.guard(a.handleAction))
}

// guard rejects requests without the correct admin token. The comparison is
// constant time so the token cannot be probed byte by byte.
func (a *API) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.token == "" {
			writeError(w, http.StatusServiceUnavailable, "admin surface disabled")
			return
		}
		supplied := r.Header.Get(tokenHeader)
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(a.token)) != 1 {
			a.log.Warn().Str("remote", r.RemoteAddr).Msg("rejected admin request")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := a.engine.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"onlineUsers": stats.OnlineUsers,
		"rooms":       stats.Rooms,
		"uptime":      a.uptime().Round(time.Second).String(),
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	writeJSON(w, http.StatusOK, a.engine.AdminSnapshot())
}

func (a *API) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	duration := time.Duration(req.Minutes) * time.Minute

	var err error
	switch req.Action {
	case "kick":
		if req.ConnID == "" {
			writeError(w, http.StatusBadRequest, "connId required")
			return
		}
		err = a.engine.AdminKick(req.ConnID)
	case "mute":
		if req.ConnID == "" {
			writeError(w, http.StatusBadRequest, "connId required")
			return
		}
		err = a.engine.AdminMute(req.ConnID, duration)
	case "ban_client":
		if req.ClientID == "" {
			writeError(w, http.StatusBadRequest, "clientId required")
			return
		}
		a.engine.AdminBanClient(req.ClientID, duration)
	case "ban_ip":
		if req.IP == "" {
			writeError(w, http.StatusBadRequest, "ip required")
			return
		}
		a.engine.AdminBanOrigin(req.IP, duration)
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}

	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	a.log.Info().Str("action", req.Action).Str("conn", req.ConnID).
		Str("client", req.ClientID).Str("ip", req.IP).Msg("admin action")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
