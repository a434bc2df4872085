package httpapi

import (
	"encoding/json"
	"net/http"

	wire "github.com/DoyleJ11/tilefall-backend/pkg/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, context map[string]any) {
	writeJSON(w, status, wire.ErrorBody{Error: wire.ErrorPayload{Code: code, Message: message, Context: context}})
}
