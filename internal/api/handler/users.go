package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/minaretlabs/minaret/internal/api/respond"
	"github.com/minaretlabs/minaret/internal/prefs"
	"github.com/minaretlabs/minaret/internal/schedule"
)

// preferencesDoc is the wire shape of one user's reminder preferences.
type preferencesDoc struct {
	Enabled      bool            `json:"enabled"`
	LeadMinutes  int             `json:"lead_minutes"`
	NotifyAtTime bool            `json:"notify_at_time"`
	Prayers      map[string]bool `json:"prayers"`
	Lat          float64         `json:"lat"`
	Lon          float64         `json:"lon"`
	Method       int             `json:"method"`
	School       int             `json:"school"`
	Timezone     string          `json:"timezone"`
	Armed        bool            `json:"armed,omitempty"`
}

// GetPreferences returns a user's stored preferences.
// @Summary Get reminder preferences
// @Tags users
// @Produce json
// @Param userID path int true "User ID"
// @Success 200 {object} preferencesDoc
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/v1/users/{userID}/preferences [get]
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	p, err := h.prefStore.Get(r.Context(), userID)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "PREFS_READ_FAILED",
			"Failed to read preferences", err.Error())
		return
	}
	if p == nil {
		respond.WriteError(w, http.StatusNotFound, "PREFS_NOT_FOUND", "User has no preferences")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, toDoc(p, h.registry.Armed(userID)))
}

// GetPreferenceDefaults returns the preference document a first-time user
// starts from: settings-table values where present, config defaults
// otherwise. The settings collaborator reads this to prefill its form before
// the first PUT.
// @Summary Get default reminder preferences
// @Tags users
// @Produce json
// @Param userID path int true "User ID"
// @Param lat query number false "Latitude to prefill"
// @Param lon query number false "Longitude to prefill"
// @Param timezone query string false "IANA timezone to prefill"
// @Success 200 {object} preferencesDoc
// @Router /api/v1/users/{userID}/preferences/defaults [get]
func (h *Handler) GetPreferenceDefaults(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		lat = 0
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		lon = 0
	}

	p := h.prefStore.Defaults(r.Context(), userID, lat, lon, q.Get("timezone"))
	respond.WriteJSONObject(w, http.StatusOK, toDoc(p, false))
}

// PutPreferences is the single preferences-replace operation used by the
// settings collaborator. Any mutation induces an immediate replan.
// @Summary Replace reminder preferences
// @Tags users
// @Accept json
// @Produce json
// @Param userID path int true "User ID"
// @Param preferences body preferencesDoc true "Full preference document"
// @Success 200 {object} preferencesDoc
// @Failure 400 {object} respond.ErrorResponse
// @Router /api/v1/users/{userID}/preferences [put]
func (h *Handler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var doc preferencesDoc
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "Body must be a preference document")
		return
	}

	p := fromDoc(userID, &doc)
	if err := h.prefStore.Replace(r.Context(), p); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_PREFERENCES",
			"Preference document rejected", err.Error())
		return
	}

	// Replan immediately. A resolver failure leaves the user unscheduled
	// for today; the document itself is saved either way.
	if err := h.registry.UpdatePreferences(r.Context(), p); err != nil &&
		!errors.Is(err, schedule.ErrSchedulingSkipped) {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "REPLAN_FAILED",
			"Preferences saved but replanning failed", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, toDoc(p, h.registry.Armed(userID)))
}

// DeletePreferences disables reminders and cancels the user's live timers.
// @Summary Disable reminders
// @Tags users
// @Param userID path int true "User ID"
// @Success 204
// @Router /api/v1/users/{userID}/preferences [delete]
func (h *Handler) DeletePreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	if err := h.prefStore.Disable(r.Context(), userID); err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "PREFS_DISABLE_FAILED",
			"Failed to disable preferences", err.Error())
		return
	}
	h.registry.Disable(userID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_USER_ID", "userID must be a positive integer")
		return 0, false
	}
	return id, true
}

func toDoc(p *prefs.Preferences, armed bool) preferencesDoc {
	return preferencesDoc{
		Enabled:      p.Enabled,
		LeadMinutes:  p.LeadMinutes,
		NotifyAtTime: p.NotifyAtTime,
		Prayers: map[string]bool{
			"fajr":    p.Fajr,
			"dhuhr":   p.Dhuhr,
			"asr":     p.Asr,
			"maghrib": p.Maghrib,
			"isha":    p.Isha,
		},
		Lat:      p.Lat,
		Lon:      p.Lon,
		Method:   p.Method,
		School:   p.School,
		Timezone: p.Timezone,
		Armed:    armed,
	}
}

func fromDoc(userID int64, doc *preferencesDoc) *prefs.Preferences {
	return &prefs.Preferences{
		UserID:       userID,
		Enabled:      doc.Enabled,
		LeadMinutes:  doc.LeadMinutes,
		NotifyAtTime: doc.NotifyAtTime,
		Fajr:         doc.Prayers["fajr"],
		Dhuhr:        doc.Prayers["dhuhr"],
		Asr:          doc.Prayers["asr"],
		Maghrib:      doc.Prayers["maghrib"],
		Isha:         doc.Prayers["isha"],
		Lat:          doc.Lat,
		Lon:          doc.Lon,
		Method:       doc.Method,
		School:       doc.School,
		Timezone:     doc.Timezone,
	}
}
