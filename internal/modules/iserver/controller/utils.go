package controller

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/MSLNZ/pr-omega-logger/internal/utils"
)

var (
	nowParams      = []string{"alias", "corrected", "serial"}
	fetchParams    = []string{"start", "end", "serial", "alias", "corrected", "type"}
	reportsParams  = []string{"alias", "date", "serial"}
	downloadParams = []string{"label", "type", "start", "end"}
	summaryParams  = downloadParams
	noParams       = []string{}
)

// parseQuery parses the query string keeping a raw ';' inside values,
// where it separates device names.
func parseQuery(r *http.Request) (url.Values, error) {
	q, err := url.ParseQuery(strings.ReplaceAll(r.URL.RawQuery, ";", "%3B"))
	if err != nil {
		return nil, fmt.Errorf("malformed query string: %w", err)
	}
	return q, nil
}

// queryValues is parseQuery for a handler that has passed checkParams, which
// rejects a malformed query string.
func queryValues(r *http.Request) url.Values {
	q, err := parseQuery(r)
	if err != nil {
		return url.Values{}
	}
	return q
}

// checkParams rejects a malformed query string and any query parameter that
// is not in allowed.
func checkParams(r *http.Request, allowed []string) error {
	q, err := parseQuery(r)
	if err != nil {
		return err
	}
	var invalid []string
	for k := range q {
		if !slices.Contains(allowed, k) {
			invalid = append(invalid, k)
		}
	}
	if len(invalid) == 0 {
		return nil
	}
	slices.Sort(invalid)
	if len(allowed) == 0 {
		return fmt.Errorf("invalid parameter(s): %s; this route takes no parameters", strings.Join(invalid, ", "))
	}
	return fmt.Errorf("invalid parameter(s): %s; valid parameters are: %s", strings.Join(invalid, ", "), strings.Join(allowed, ", "))
}

// parseCorrected reads the corrected flag. A missing flag means true; a
// given one is true only for "true" or "1" (any case), so "corrected=" is
// false.
func parseCorrected(r *http.Request) bool {
	v, ok := queryValues(r)["corrected"]
	if !ok || len(v) == 0 {
		return true
	}
	switch strings.ToLower(v[0]) {
	case "true", "1":
		return true
	}
	return false
}

// parseNames collects the serial and alias parameters, each a list separated
// by ';'. Empty elements are ignored.
func parseNames(r *http.Request) []string {
	var names []string
	q := queryValues(r)
	for _, key := range []string{"serial", "alias"} {
		for _, v := range q[key] {
			for _, name := range strings.Split(v, ";") {
				if name != "" && !slices.Contains(names, name) {
					names = append(names, name)
				}
			}
		}
	}
	return names
}

// parseTime parses an optional ISO 8601 parameter; a missing value yields
// the zero time.
func parseTime(r *http.Request, key string) (time.Time, error) {
	v := queryValues(r).Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := utils.ParseISO(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("the value for %q must be an ISO 8601 string (e.g., YYYY-MM-DD or YYYY-MM-DDThh:mm:ss), received %q", key, v)
	}
	return t, nil
}

func parseRange(r *http.Request) (start, end time.Time, err error) {
	if start, err = parseTime(r, "start"); err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end, err = parseTime(r, "end"); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

var errNoLabel = errors.New("at least one 'label' is required")
