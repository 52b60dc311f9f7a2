package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/portalkeep/portalkeep/internal/api"
	"github.com/portalkeep/portalkeep/internal/eventbus"
	"github.com/portalkeep/portalkeep/internal/reconnect"
	"github.com/portalkeep/portalkeep/internal/version"
)

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	st := s.controller.Status()
	resp := api.StatusResponse{
		Version:                version.String(),
		State:                  string(st.State),
		AutoReconnect:          st.AutoReconnect,
		EffectiveAutoReconnect: st.EffectiveAutoReconnect,
		ForcedAutoReconnect:    st.ForcedAutoReconnect,
		CheckInterval:          st.CheckInterval,
		PeriodicLoginInterval:  st.PeriodicLoginInterval,
		CredentialsConfigured:  st.CredentialsConfigured,
		Username:               st.Username,
		UptimeSeconds:          time.Since(s.startTime).Seconds(),
	}
	if !st.PeriodicLoginDue.IsZero() {
		due := st.PeriodicLoginDue
		resp.PeriodicLoginDue = &due
	}
	if st.LastOutcome != nil {
		outcome := api.OutcomeFromEvent(*st.LastOutcome)
		resp.LastOutcome = &outcome
	}
	if st.LastProbe != nil {
		probe := api.ProbeFromEvent(*st.LastProbe)
		resp.LastProbe = &probe
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleLogin starts a manual attempt and waits briefly for its outcome so
// the common case answers synchronously. A slow portal yields 202 with the
// attempt ID; the outcome then arrives via /api/events or /api/status.
func (s *APIServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Subscribe before requesting so the outcome cannot slip past.
	sub := eventbus.SubscribeTo(s.bus, eventbus.Login.Outcome,
		eventbus.WithSubscriptionName("api.login"))
	defer sub.Close()

	attemptID, err := s.controller.RequestLogin(r.Context())
	if err != nil {
		if errors.Is(err, reconnect.ErrAttemptInFlight) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	deadline := time.NewTimer(s.loginWait)
	defer deadline.Stop()

	for {
		select {
		case env, ok := <-sub.C():
			if !ok {
				writeJSON(w, http.StatusAccepted, api.LoginResponse{AttemptID: attemptID})
				return
			}
			if env.Payload.AttemptID != attemptID {
				continue
			}
			outcome := api.OutcomeFromEvent(env.Payload)
			writeJSON(w, http.StatusOK, api.LoginResponse{
				AttemptID: attemptID,
				Completed: true,
				Outcome:   &outcome,
			})
			return
		case <-deadline.C:
			writeJSON(w, http.StatusAccepted, api.LoginResponse{AttemptID: attemptID})
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *APIServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.writeConfigView(w)
}

func (s *APIServer) writeConfigView(w http.ResponseWriter) {
	cfg := s.store.Current()
	if cfg == nil {
		writeError(w, http.StatusInternalServerError, "no configuration loaded")
		return
	}

	writeJSON(w, http.StatusOK, api.ConfigView{
		Path:                  s.store.Path(),
		LoginURL:              cfg.Login.URL,
		Username:              cfg.Username(),
		CredentialsConfigured: cfg.CredentialsConfigured(),
		HeaderCount:           len(cfg.Headers),
		AutoReconnect:         cfg.Settings.AutoReconnect,
		ForcedAutoReconnect:   cfg.Settings.ForcedAutoReconnect,
		CheckInterval:         cfg.Settings.CheckInterval,
		ProbeURL:              cfg.Settings.ProbeURL,
		ProbeTimeout:          cfg.Settings.ProbeTimeout,
		PeriodicLoginInterval: cfg.Settings.PeriodicLoginInterval,
	})
}

func (s *APIServer) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.controller.RequestConfigReload(r.Context()); err != nil {
		// A malformed file keeps the previous snapshot active.
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.writeConfigView(w)
}

func (s *APIServer) handleAutoReconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req api.ToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.controller.SetAutoReconnect(r.Context(), req.Enabled); err != nil {
		if errors.Is(err, reconnect.ErrAutoReconnectForced) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

func (s *APIServer) handleCheckInterval(w http.ResponseWriter, r *http.Request) {
	s.handleIntervalSetting(w, r, s.controller.SetCheckInterval)
}

func (s *APIServer) handlePeriodicLogin(w http.ResponseWriter, r *http.Request) {
	s.handleIntervalSetting(w, r, s.controller.SetPeriodicLoginInterval)
}

func (s *APIServer) handleIntervalSetting(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, seconds int) error) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req api.IntervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := apply(r.Context(), req.Seconds); err != nil {
		if errors.Is(err, reconnect.ErrInvalidInterval) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"seconds": req.Seconds})
}

func (s *APIServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.historyDB == nil {
		writeError(w, http.StatusNotImplemented, "history store not available")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	attempts, err := s.historyDB.RecentAttempts(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := api.HistoryResponse{Attempts: make([]api.OutcomeDTO, 0, len(attempts))}
	for _, attempt := range attempts {
		resp.Attempts = append(resp.Attempts, api.OutcomeDTO{
			AttemptID:  attempt.ID,
			Trigger:    attempt.Trigger,
			Status:     attempt.Status,
			Message:    attempt.Message,
			StartedAt:  attempt.StartedAt,
			FinishedAt: attempt.FinishedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleDaemonShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	s.RequestShutdown()
}
