package rest

import (
	"encoding/json"
	"net/http"

	"github.com/flowbotio/flowbot/model"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func (s *Server) HandleEvent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var msg model.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	defer r.Body.Close()
	msg.BotId = vars["botId"]
	if msg.ContactId == "" {
		respondWithError(w, http.StatusBadRequest, "contactId is required")
		return
	}
	if msg.EventId == "" {
		msg.EventId = uuid.New().String()
	}
	result := s.executorService.HandleEvent(r.Context(), msg)
	switch result.ErrorKind {
	case model.ERROR_LOCK_TIMEOUT:
		// The channel's own redelivery will retry this event.
		respondWithJSON(w, http.StatusServiceUnavailable, result)
	case model.ERROR_BOT_DEACTIVATED:
		respondWithJSON(w, http.StatusGone, result)
	default:
		respondWithJSON(w, http.StatusOK, result)
	}
}

func (s *Server) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	s.executorService.Deactivate(mux.Vars(r)["botId"])
	respondOK(w, "bot deactivated")
}

func (s *Server) HandleActivate(w http.ResponseWriter, r *http.Request) {
	s.executorService.Activate(mux.Vars(r)["botId"])
	respondOK(w, "bot activated")
}

func (s *Server) HandleGetCursor(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	cursor, err := s.executorService.GetCursor(r.Context(), vars["botId"], vars["contactId"])
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cursor == nil {
		respondWithError(w, http.StatusNotFound, "no cursor")
		return
	}
	respondWithJSON(w, http.StatusOK, cursor)
}

func (s *Server) HandleTickDelays(w http.ResponseWriter, r *http.Request) {
	processed, err := s.executorService.TickDueDelays(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int{"processed": processed})
}
