package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/wybot-bridge/internal/coordinator"
	"github.com/nerrad567/wybot-bridge/internal/wybot"
)

// groupView is a Group enriched with derived fields for API clients.
type groupView struct {
	*wybot.Group
	Model       string     `json:"model"`
	DisplayName string     `json:"displayName"`
	State       *stateView `json:"state,omitempty"`
	Online      onlineView `json:"online"`
}

// stateView is the decoded DP state of a group's primary target.
// ModeCode carries the raw read-back byte alongside the label so
// clients can round-trip it into a mode command untranslated.
type stateView struct {
	Status       string `json:"status,omitempty"`
	Mode         string `json:"mode,omitempty"`
	ModeCode     *int   `json:"modeCode,omitempty"`
	BatteryLevel *int   `json:"batteryLevel,omitempty"`
	BatteryState string `json:"batteryState,omitempty"`
	Dock         string `json:"dock,omitempty"`
	CleanMinutes *int   `json:"cleanMinutes,omitempty"`
}

// onlineView is the derived presence of a target.
type onlineView struct {
	TargetID         string   `json:"targetId,omitempty"`
	Online           *bool    `json:"online"`
	Explicit         *bool    `json:"explicit"`
	SecondsSinceSeen *float64 `json:"secondsSinceSeen,omitempty"`
}

// commandRequest is the body of POST /groups/{id}/command. At least
// one field must be present; mode and clean-minutes changes may be
// combined with an action in one request.
type commandRequest struct {
	Action       string `json:"action,omitempty"`
	Mode         string `json:"mode,omitempty"`
	CleanMinutes int    `json:"cleanMinutes,omitempty"`
}

// handleListGroups returns every group, sorted by id for stable output.
func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups := s.bridge.Groups()

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	views := make([]groupView, 0, len(ids))
	for _, id := range ids {
		views = append(views, s.buildGroupView(groups[id]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"groups": views,
		"count":  len(views),
	})
}

// handleGetGroup returns one group by id.
func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	group, ok := s.bridge.Group(id)
	if !ok {
		writeNotFound(w, "group not found")
		return
	}
	writeJSON(w, http.StatusOK, s.buildGroupView(group))
}

// handleCommand translates a high-level command into DP writes for
// every target of the group. Mixed requests (mode plus start) are
// accepted; sequencing between the writes is the coordinator's job.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	group, ok := s.bridge.Group(id)
	if !ok {
		writeNotFound(w, "group not found")
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.Action == "" && req.Mode == "" && req.CleanMinutes == 0 {
		writeBadRequest(w, "at least one of action, mode, cleanMinutes is required")
		return
	}

	var dps []wybot.DP

	if req.Mode != "" {
		dp, err := wybot.EncodeCleaningMode(req.Mode)
		if err != nil {
			writeBadRequest(w, "unknown mode: "+req.Mode)
			return
		}
		dps = append(dps, dp)
	}

	if req.CleanMinutes != 0 {
		dp, err := wybot.CleanTimeCommand(req.CleanMinutes)
		if err != nil {
			writeBadRequest(w, "clean minutes out of range")
			return
		}
		dps = append(dps, dp)
	}

	if req.Action != "" {
		dp, err := wybot.Action(req.Action, group.Model())
		if err != nil {
			writeBadRequest(w, "unknown action: "+req.Action)
			return
		}
		dps = append(dps, dp)
	}

	if err := s.bridge.SendCommand(id, dps...); err != nil {
		switch {
		case errors.Is(err, coordinator.ErrUnknownGroup):
			writeNotFound(w, "group not found")
		case errors.Is(err, coordinator.ErrNoTargets):
			writeBadRequest(w, "group has no addressable targets")
		default:
			writeInternalError(w, "command dispatch failed")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "accepted",
		"groupId": id,
		"dps":     len(dps),
	})
}

// buildGroupView decorates a group with decoded state and presence.
func (s *Server) buildGroupView(g *wybot.Group) groupView {
	view := groupView{
		Group:       g,
		Model:       g.Model(),
		DisplayName: g.DisplayName(),
		Online:      s.buildOnlineView(g.PrimaryTargetID()),
	}

	state := stateView{}
	populated := false

	if status, ok := g.CleaningStatus(); ok {
		state.Status = string(status.State)
		populated = true
	}
	if mode, ok := g.CleaningMode(); ok {
		state.Mode = mode.Label
		if dp, ok := g.FindDP(wybot.DPCleaningMode); ok {
			if code := wybot.ModeCodeFromHex(dp.Data); code >= 0 {
				state.ModeCode = &code
			}
		}
		populated = true
	}
	if battery, ok := g.Battery(); ok {
		state.BatteryState = string(battery.State)
		if battery.Level >= 0 {
			lvl := battery.Level
			state.BatteryLevel = &lvl
		}
		populated = true
	}
	if dock, ok := g.Dock(); ok {
		state.Dock = string(dock.State)
		populated = true
	}
	if dp, ok := g.FindDP(wybot.DPCleanTime); ok {
		if minutes := wybot.CleanTimeMinutesFromHex(dp.Data); minutes >= 0 {
			state.CleanMinutes = &minutes
		}
		populated = true
	}

	if populated {
		view.State = &state
	}
	return view
}

// buildOnlineView derives the presence answer for one target.
func (s *Server) buildOnlineView(targetID string) onlineView {
	view := onlineView{TargetID: targetID}
	if targetID == "" {
		return view
	}

	if online, ok := s.bridge.ConsideredOnline(targetID); ok {
		v := online
		view.Online = &v
	}
	if explicit, ok := s.bridge.ExplicitOnline(targetID); ok {
		v := explicit
		view.Explicit = &v
	}
	if since, ok := s.bridge.SecondsSinceHeard(targetID); ok {
		view.SecondsSinceSeen = &since
	}
	return view
}
