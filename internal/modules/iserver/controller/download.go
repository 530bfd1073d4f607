package controller

import (
	"bytes"
	"encoding/csv"
	"net/http"
	"strconv"

	"github.com/MSLNZ/pr-omega-logger/internal/utils"
)

const downloadFilename = "omega-logger-data.csv"

// handleDownload writes the corrected series of the requested labels as CSV.
// Each label takes two columns: the first row holds the label, the second
// the column titles and the rest the timestamps and values.
func (c *iserverControllerImpl) handleDownload(w http.ResponseWriter, r *http.Request) {
	if err := checkParams(r, downloadParams); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, windows, status, err := c.windows(r.Context(), r)
	if err != nil {
		utils.WriteError(w, status, err.Error())
		return
	}
	if len(windows) == 0 {
		utils.WriteError(w, http.StatusBadRequest, errNoLabel.Error())
		return
	}

	nrows := 0
	names := make([]string, 0, 2*len(windows))
	titles := make([]string, 0, 2*len(windows))
	for _, ls := range windows {
		names = append(names, ls.label, "")
		titles = append(titles, "Timestamp", kindTitle(kind))
		nrows = max(nrows, len(ls.series.Points))
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	_ = cw.Write(names)
	_ = cw.Write(titles)
	for i := 0; i < nrows; i++ {
		record := make([]string, 0, 2*len(windows))
		for _, ls := range windows {
			if i < len(ls.series.Points) {
				p := ls.series.Points[i]
				record = append(record, utils.FormatISO(p.Timestamp), strconv.FormatFloat(p.Value, 'f', -1, 64))
			} else {
				record = append(record, "", "")
			}
		}
		_ = cw.Write(record)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		c.logger.Error("download: write csv failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to write csv")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+downloadFilename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		c.logger.Error("download: write response failed", "error", err)
	}
}
