package controller

import (
	"net/http"

	"github.com/MSLNZ/pr-omega-logger/internal/calibration"
	"github.com/MSLNZ/pr-omega-logger/internal/query"
	"github.com/MSLNZ/pr-omega-logger/internal/utils"
)

func (c *iserverControllerImpl) handleAliases(w http.ResponseWriter, r *http.Request) {
	if err := checkParams(r, noParams); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	utils.WriteJSON(w, http.StatusOK, c.engine.Catalog().Aliases())
}

func (c *iserverControllerImpl) handleNow(w http.ResponseWriter, r *http.Request) {
	if err := checkParams(r, nowParams); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	devices := c.engine.Catalog().Select(parseNames(r))
	utils.WriteJSON(w, http.StatusOK, c.engine.Snapshot(r.Context(), devices, parseCorrected(r)))
}

func (c *iserverControllerImpl) handleFetch(w http.ResponseWriter, r *http.Request) {
	if err := checkParams(r, fetchParams); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, end, err := parseRange(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := query.FetchRequest{
		Names:     parseNames(r),
		Start:     start,
		End:       end,
		Corrected: parseCorrected(r),
	}
	if v, ok := queryValues(r)["type"]; ok {
		for _, s := range v {
			req.Types = append(req.Types, query.SplitTypes(s)...)
		}
	}
	utils.WriteJSON(w, http.StatusOK, c.engine.Fetch(r.Context(), req))
}

// handleReports returns every report of the selected devices or, with a
// date, the report nearest to that date for each component.
func (c *iserverControllerImpl) handleReports(w http.ResponseWriter, r *http.Request) {
	if err := checkParams(r, reportsParams); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := parseTime(r, "date")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	_, hasDate := queryValues(r)["date"]

	out := make(map[string][]calibration.Report)
	for _, d := range c.engine.Catalog().Select(parseNames(r)) {
		reports := []calibration.Report{}
		for _, p := range d.Components() {
			if hasDate {
				reports = append(reports, calibration.FindNearest(d.Reports(p), date))
			} else {
				reports = append(reports, d.Reports(p)...)
			}
		}
		out[d.Serial] = reports
	}
	utils.WriteJSON(w, http.StatusOK, out)
}

func (c *iserverControllerImpl) handleDatabases(w http.ResponseWriter, r *http.Request) {
	if err := checkParams(r, noParams); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	info, err := c.databases.Info(r.Context())
	if err != nil {
		c.logger.Error("databases: info failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.WriteJSON(w, http.StatusOK, info)
}
