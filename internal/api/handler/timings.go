package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/minaretlabs/minaret/internal/api/respond"
	"github.com/minaretlabs/minaret/internal/prayer"
	"github.com/minaretlabs/minaret/internal/resolver"
)

// timingsResponse is the wire shape for one resolved timing set.
type timingsResponse struct {
	LocationKey string            `json:"location_key"`
	Date        string            `json:"date"`
	HijriDate   string            `json:"hijri_date,omitempty"`
	Timings     map[string]string `json:"timings"`
	Midnight    string            `json:"midnight,omitempty"`
	Method      int               `json:"method"`
	School      int               `json:"school"`
	Provenance  string            `json:"provenance"`
}

// GetTimings resolves the prayer timings for a point and date.
// @Summary Resolve prayer timings
// @Description Resolves the daily timing set for a coordinate pair and date through the tiered resolution policy.
// @Tags timings
// @Produce json
// @Param lat query number true "Latitude"
// @Param lon query number true "Longitude"
// @Param date query string false "Date (YYYY-MM-DD), defaults to today"
// @Param method query int false "Calculation method id"
// @Param school query int false "Juristic school id"
// @Success 200 {object} timingsResponse
// @Failure 400 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /api/v1/timings [get]
func (h *Handler) GetTimings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil || lat < -90 || lat > 90 {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_COORDINATES", "lat must be a number in [-90, 90]")
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil || lon < -180 || lon > 180 {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_COORDINATES", "lon must be a number in [-180, 180]")
		return
	}

	date := time.Now().UTC()
	if raw := q.Get("date"); raw != "" {
		date, err = time.Parse(prayer.DayKeyFormat, raw)
		if err != nil {
			respond.WriteError(w, http.StatusBadRequest, "INVALID_DATE", "date must be YYYY-MM-DD")
			return
		}
	}

	method := h.cfg.DefaultMethod
	if raw := q.Get("method"); raw != "" {
		if method, err = strconv.Atoi(raw); err != nil {
			respond.WriteError(w, http.StatusBadRequest, "INVALID_METHOD", "method must be an integer")
			return
		}
	}
	school := h.cfg.DefaultSchool
	if raw := q.Get("school"); raw != "" {
		if school, err = strconv.Atoi(raw); err != nil {
			respond.WriteError(w, http.StatusBadRequest, "INVALID_SCHOOL", "school must be an integer")
			return
		}
	}

	set, err := h.resolver.Resolve(r.Context(), lat, lon, date, method, school)
	if err != nil {
		if errors.Is(err, resolver.ErrResolutionUnavailable) {
			respond.WriteError(w, http.StatusServiceUnavailable, "RESOLUTION_UNAVAILABLE",
				"No timing data available for this location")
			return
		}
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "RESOLUTION_FAILED",
			"Timing resolution failed", err.Error())
		return
	}

	respond.WriteJSONObject(w, http.StatusOK, toTimingsResponse(set))
}

func toTimingsResponse(set *prayer.TimingSet) timingsResponse {
	const layout = "15:04"
	resp := timingsResponse{
		LocationKey: string(set.Key),
		Date:        set.Date,
		HijriDate:   set.HijriDate,
		Method:      set.Method,
		School:      set.School,
		Provenance:  set.Provenance.String(),
		Timings: map[string]string{
			prayer.Fajr.String():    set.Fajr.Format(layout),
			prayer.Sunrise.String(): set.Sunrise.Format(layout),
			prayer.Dhuhr.String():   set.Dhuhr.Format(layout),
			prayer.Asr.String():     set.Asr.Format(layout),
			prayer.Maghrib.String(): set.Maghrib.Format(layout),
			prayer.Isha.String():    set.Isha.Format(layout),
		},
	}
	if !set.Midnight.IsZero() {
		resp.Midnight = set.Midnight.Format(layout)
	}
	return resp
}
