package types

import (
	"errors"
	"fmt"
	"strings"
)

// Probe identifies which sensor of a device a reading or report belongs to.
// A 1-probe device only has ProbeSingle; a 2-probe device has ProbeFirst and
// ProbeSecond.
type Probe int

const (
	ProbeSingle Probe = iota
	ProbeFirst
	ProbeSecond
)

var ErrInvalidComponent = errors.New("invalid component")

// ProbesFor returns the probes of a device with n probes.
func ProbesFor(n int) []Probe {
	if n == 2 {
		return []Probe{ProbeFirst, ProbeSecond}
	}
	return []Probe{ProbeSingle}
}

// Suffix is appended to field names: "", "1" or "2".
func (p Probe) Suffix() string {
	switch p {
	case ProbeFirst:
		return "1"
	case ProbeSecond:
		return "2"
	default:
		return ""
	}
}

// Component is the label used in calibration reports.
func (p Probe) Component() string {
	switch p {
	case ProbeFirst:
		return "Probe 1"
	case ProbeSecond:
		return "Probe 2"
	default:
		return ""
	}
}

// Index is the position of the probe's values within a row of a store.
func (p Probe) Index() int {
	if p == ProbeSecond {
		return 1
	}
	return 0
}

func (p Probe) String() string {
	if p == ProbeSingle {
		return "single"
	}
	return p.Component()
}

// ParseComponent maps a report component to a Probe, checking that the
// component makes sense for a device with the given number of probes.
func ParseComponent(s string, probes int) (Probe, error) {
	c := strings.TrimSpace(s)
	switch {
	case c == "" && probes == 1:
		return ProbeSingle, nil
	case c == "Probe 1" && probes == 2:
		return ProbeFirst, nil
	case c == "Probe 2" && probes == 2:
		return ProbeSecond, nil
	}
	return ProbeSingle, fmt.Errorf("%w %q for a %d-probe device", ErrInvalidComponent, s, probes)
}

// Field returns the store column for kind k of probe p.
func Field(k Kind, p Probe) string {
	return k.String() + p.Suffix()
}

// Fields returns the value columns of a store for a device with n probes.
func Fields(n int) []string {
	var out []string
	for _, p := range ProbesFor(n) {
		for _, k := range Kinds {
			out = append(out, Field(k, p))
		}
	}
	return out
}
