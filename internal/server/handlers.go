package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/dukerupert/payline/internal/auth"
	"github.com/dukerupert/payline/internal/payments"
)

const maxWebhookBody = 1 << 20

func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	uid := auth.UID(r.Context())
	if uid == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req payments.CreateIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	req.UID = uid

	resp, err := s.intents.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}

	processorID := r.URL.Query().Get("processor")
	key := r.URL.Query().Get("key")

	result, err := s.receiver.Receive(r.Context(), processorID, key, body, r.Header)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
