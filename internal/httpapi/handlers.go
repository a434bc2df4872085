package httpapi

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tilefall-backend/internal/floodguard"
	"github.com/DoyleJ11/tilefall-backend/internal/hub"
	"github.com/DoyleJ11/tilefall-backend/internal/ws"
	wire "github.com/DoyleJ11/tilefall-backend/pkg/types"
)

const lookupTimeout = 2 * time.Second

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// wallet pulls the identity off the query string and refuses banned ones.
// It writes the error response itself and reports false on refusal.
func wallet(w http.ResponseWriter, r *http.Request, bans *floodguard.BanList) (string, bool) {
	id := r.URL.Query().Get("wallet")
	if id == "" {
		writeError(w, http.StatusBadRequest, wire.CodeMissingWallet, "The wallet query parameter is required.", nil)
		return "", false
	}
	if remaining := bans.Remaining(id); remaining > 0 {
		writeError(w, http.StatusForbidden, wire.CodeBanned, "This wallet is temporarily banned.", map[string]any{
			"wallet":             id,
			"ban_remaining_secs": int(math.Ceil(remaining.Seconds())),
		})
		return "", false
	}
	return id, true
}

func matchID(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "matchID")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, wire.CodeInvalidMatchID, "Match id is not a valid UUID.",
			map[string]any{"match_id": raw})
		return "", false
	}
	return id.String(), true
}

func LobbySocket(s *ws.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := wallet(w, r, s.Bans())
		if !ok {
			return
		}
		s.ServeLobby(w, r, id, r.URL.Query().Get("username"))
	}
}

func MatchSocket(h *hub.Hub, s *ws.Server, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mid, ok := matchID(w, r)
		if !ok {
			return
		}
		id, ok := wallet(w, r, s.Bans())
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
		m, err := h.Ensure(ctx, mid)
		cancel()
		if err != nil {
			if errors.Is(err, hub.ErrMatchNotFound) {
				writeError(w, http.StatusNotFound, wire.CodeMatchNotFound, "No such match.", map[string]any{"match_id": mid})
				return
			}
			log.Error("ensure match", zap.String("match_id", mid), zap.Error(err))
			writeError(w, http.StatusInternalServerError, wire.CodeInternal, "Could not open the match.", nil)
			return
		}
		s.ServeMatch(w, r, m, id)
	}
}

func GetMatch(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mid, ok := matchID(w, r)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
		defer cancel()
		v, err := h.View(ctx, mid)
		if err != nil {
			if errors.Is(err, hub.ErrMatchNotFound) {
				writeError(w, http.StatusNotFound, wire.CodeMatchNotFound, "No such match.", map[string]any{"match_id": mid})
				return
			}
			log.Error("view match", zap.String("match_id", mid), zap.Error(err))
			writeError(w, http.StatusInternalServerError, wire.CodeInternal, "Could not read the match.", nil)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}
