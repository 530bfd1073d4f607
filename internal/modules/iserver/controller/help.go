package controller

import (
	"bytes"
	"net/http"

	"github.com/MSLNZ/pr-omega-logger/internal/modules/iserver/views"
	"github.com/MSLNZ/pr-omega-logger/internal/utils"
)

var (
	serialParam = views.Param{Name: "serial", Type: "string", Description: "The serial number(s) of the iServer(s), separated by a semicolon. Optional."}
	aliasParam  = views.Param{Name: "alias", Type: "string", Description: "The alias(es) of the iServer(s), separated by a semicolon. Optional."}
	corrParam   = views.Param{Name: "corrected", Type: "boolean", Description: "Whether to apply the calibration correction: true or 1 (the default when omitted); any other value, including an empty one, disables it."}
)

var endpoints = []views.Endpoint{
	{
		Name:        "aliases",
		Path:        "/aliases",
		Description: "The alias of every iServer, keyed by serial number.",
		Examples:    []views.Example{{URL: "/aliases", Description: "all aliases"}},
	},
	{
		Name:        "now",
		Path:        "/now",
		Description: "The current temperature, humidity and dewpoint of the iServers. A device that cannot be read reports the problem in \"error\" and null values.",
		Params:      []views.Param{serialParam, aliasParam, corrParam},
		Examples: []views.Example{
			{URL: "/now", Description: "corrected data from all iServers"},
			{URL: "/now?corrected=false", Description: "uncorrected data from all iServers"},
			{URL: "/now?serial=12345;67890", Description: "corrected data from two iServers"},
		},
	},
	{
		Name:        "fetch",
		Path:        "/fetch",
		Description: "The logged data between start and end, inclusive. A missing end means now and a missing start means one hour before end. Each row is corrected with the report whose start date is nearest to the row's timestamp.",
		Params: []views.Param{
			{Name: "start", Type: "ISO 8601 string", Description: "The start of the window. Optional."},
			{Name: "end", Type: "ISO 8601 string", Description: "The end of the window. Optional."},
			serialParam,
			aliasParam,
			corrParam,
			{Name: "type", Type: "string", Description: "temperature, humidity and/or dewpoint separated by a comma, semicolon or space. Close misspellings are accepted; unknown values are listed in \"warning\". Optional, default is all."},
		},
		Examples: []views.Example{
			{URL: "/fetch?start=2021-02-16", Description: "all corrected data since midnight of 16 Feb 2021"},
			{URL: "/fetch?serial=12345&corrected=0&start=2021-02-16T09:20:30&type=temperature", Description: "uncorrected temperatures of one iServer"},
		},
	},
	{
		Name:        "reports",
		Path:        "/reports",
		Description: "The calibration reports of the iServers. With a date, only the report nearest to that date is returned for each probe.",
		Params: []views.Param{
			serialParam,
			aliasParam,
			{Name: "date", Type: "ISO 8601 string", Description: "Select the nearest report. Optional."},
		},
		Examples: []views.Example{{URL: "/reports?date=2021-01-01", Description: "the reports in use on 1 Jan 2021"}},
	},
	{
		Name:        "databases",
		Path:        "/databases",
		Description: "The fields, file size, first and last timestamp and number of records of every database.",
		Examples:    []views.Example{{URL: "/databases", Description: "all databases"}},
	},
}

func (c *iserverControllerImpl) handleHelp(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := views.RenderHelp(&buf, &views.HelpData{Version: c.version, Endpoints: endpoints}); err != nil {
		c.logger.Error("help template render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render page")
		return
	}
	utils.WriteHTML(w, http.StatusOK, buf.Bytes())
}
