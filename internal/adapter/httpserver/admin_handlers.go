package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
)

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

// PauseHandler stops workers from dequeuing new tasks; in-flight tasks run to
// completion.
func (s *Server) PauseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Sup.Pause()
		LoggerFrom(r).Info("pipeline paused")
		writeJSON(w, http.StatusOK, map[string]any{"paused": true})
	}
}

// ResumeHandler lifts a pause.
func (s *Server) ResumeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Sup.Resume()
		LoggerFrom(r).Info("pipeline resumed")
		writeJSON(w, http.StatusOK, map[string]any{"paused": false})
	}
}

// ResetHandler clears leases and the active set and returns every
// worker-owned job to pending.
func (s *Server) ResetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Sup.Reset(r.Context()); err != nil {
			writeError(w, r, err, nil)
			return
		}
		LoggerFrom(r).Info("pipeline reset")
		writeJSON(w, http.StatusOK, map[string]any{"reset": true})
	}
}

// QueueStatusHandler returns the queue/active/db/account snapshot.
func (s *Server) QueueStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := s.Sup.Status(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// RestartWorkersHandler tears the fleets down and spawns fresh ones.
func (s *Server) RestartWorkersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Sup.RestartWorkers()
		LoggerFrom(r).Info("workers restarted")
		writeJSON(w, http.StatusOK, map[string]any{"restarted": true})
	}
}

// ImportAccountsHandler ingests a YAML account inventory.
func (s *Server) ImportAccountsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		n, err := s.Accounts.ImportYAML(r.Context(), data)
		if err != nil {
			writeError(w, r, err, map[string]any{"imported": n})
			return
		}
		LoggerFrom(r).Info("accounts imported", "count", n)
		writeJSON(w, http.StatusCreated, map[string]any{"imported": n})
	}
}

// ListAccountsHandler returns the account inventory with passwords redacted.
func (s *Server) ListAccountsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := s.Accounts.List(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts, "count": len(accounts)})
	}
}

func accountID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.WrapInvalid("account id must be a positive integer")
	}
	return id, nil
}

// AccountStatusHandler changes an account's health state.
func (s *Server) AccountStatusHandler() http.HandlerFunc {
	type request struct {
		Status string `json:"status"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := accountID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		var req request
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := s.Accounts.SetStatus(r.Context(), id, domain.AccountStatus(req.Status)); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": req.Status})
	}
}

// RefreshCreditsHandler re-fetches one account's remote balance.
func (s *Server) RefreshCreditsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := accountID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		credits, err := s.Accounts.RefreshCredits(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "credits": credits})
	}
}
