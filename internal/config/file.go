package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultWait          = 60 * time.Second
	DefaultDeviceTimeout = 10 * time.Second
	DefaultRefresh       = 10 * time.Second
)

var ErrInvalidFile = errors.New("invalid config file")

// File is the YAML device file: where data lives, which iServers to log and
// their calibration reports.
type File struct {
	Path string `yaml:"-"`

	LogDir        string     `yaml:"log_dir"`
	BackupDir     string     `yaml:"backup_dir"`
	Wait          Seconds    `yaml:"wait"`
	DeviceTimeout Seconds    `yaml:"device_timeout"`
	Serials       []Scalar   `yaml:"serials"`
	SMTP          *SMTP      `yaml:"smtp"`
	Validator     *Validator `yaml:"validator"`
	Dashboard     Dashboard  `yaml:"dashboard"`
	Devices       []Device   `yaml:"devices"`
}

type Device struct {
	Serial       Scalar   `yaml:"serial"`
	Alias        Scalar   `yaml:"alias"`
	Model        string   `yaml:"model"`
	Probes       int      `yaml:"probes"`
	Calibrations []Report `yaml:"calibrations"`
}

// Report is a calibration report as written in the file. Numeric and date
// fields are kept as text and parsed by the calibration catalog.
type Report struct {
	Number         string `yaml:"number"`
	Component      string `yaml:"component"`
	Date           Scalar `yaml:"date"`
	StartDate      Scalar `yaml:"start_date"`
	EndDate        Scalar `yaml:"end_date"`
	CoverageFactor Scalar `yaml:"coverage_factor"`
	Confidence     string `yaml:"confidence"`
	Temperature    *Range `yaml:"temperature"`
	Humidity       *Range `yaml:"humidity"`
}

type Range struct {
	Units               string       `yaml:"units"`
	Min                 Scalar       `yaml:"min"`
	Max                 Scalar       `yaml:"max"`
	Coefficients        Coefficients `yaml:"coefficients"`
	ExpandedUncertainty Scalar       `yaml:"expanded_uncertainty"`
}

type SMTP struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	// TLS is one of "opportunistic" (default), "mandatory" or "none".
	TLS      string   `yaml:"tls"`
}

type Validator struct {
	Name           string   `yaml:"name"`
	TMin           *float64 `yaml:"tmin"`
	TMax           *float64 `yaml:"tmax"`
	HMin           *float64 `yaml:"hmin"`
	HMax           *float64 `yaml:"hmax"`
	DMin           *float64 `yaml:"dmin"`
	DMax           *float64 `yaml:"dmax"`
	ResetCriterion int      `yaml:"reset_criterion"`
}

type Dashboard struct {
	Title           string  `yaml:"title"`
	RefreshInterval Seconds `yaml:"refresh_interval"`
}

// Scalar is any YAML scalar taken verbatim, so that serials such as 01234
// and dates such as 2020-12-17 keep their written form.
type Scalar string

func (s *Scalar) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar value", n.Line)
	}
	*s = Scalar(strings.TrimSpace(n.Value))
	return nil
}

func (s Scalar) String() string { return string(s) }

// Coefficients accepts either a "c0;c1,c2" string or a YAML sequence.
type Coefficients []string

var coefficientSep = regexp.MustCompile(`[;,]`)

func (c *Coefficients) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		var out []string
		for _, v := range coefficientSep.Split(n.Value, -1) {
			out = append(out, strings.TrimSpace(v))
		}
		*c = out
	case yaml.SequenceNode:
		out := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: coefficient must be a scalar", item.Line)
			}
			out = append(out, strings.TrimSpace(item.Value))
		}
		*c = out
	default:
		return fmt.Errorf("line %d: coefficients must be a string or a list", n.Line)
	}
	return nil
}

// Seconds is a duration written either as a number of seconds (60) or as a
// Go duration string ("1m").
type Seconds time.Duration

func (s *Seconds) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a duration", n.Line)
	}
	v := strings.TrimSpace(n.Value)
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*s = Seconds(time.Duration(f * float64(time.Second)))
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", n.Line, v)
	}
	*s = Seconds(d)
	return nil
}

func (s Seconds) Duration() time.Duration { return time.Duration(s) }

// LoadFile reads and validates the YAML device file at path.
func LoadFile(path string) (File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config %s: %w", path, err)
	}
	f, err := ParseFile(b)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

// ParseFile decodes and validates a YAML device file. Relative directories
// are kept as written.
func ParseFile(b []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return File{}, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	if err := f.normalize(); err != nil {
		return File{}, err
	}
	return f, nil
}

func (f *File) normalize() error {
	if strings.TrimSpace(f.LogDir) == "" {
		return fmt.Errorf("%w: log_dir is required", ErrInvalidFile)
	}
	if f.BackupDir == "" {
		f.BackupDir = filepath.Join(f.LogDir, "backup")
	}
	if f.Wait <= 0 {
		f.Wait = Seconds(DefaultWait)
	}
	if f.DeviceTimeout <= 0 {
		f.DeviceTimeout = Seconds(DefaultDeviceTimeout)
	}
	if f.Dashboard.RefreshInterval <= 0 {
		f.Dashboard.RefreshInterval = Seconds(DefaultRefresh)
	}
	if f.Dashboard.Title == "" {
		f.Dashboard.Title = "OMEGA iServers"
	}

	seen := make(map[string]bool, len(f.Devices))
	for i := range f.Devices {
		d := &f.Devices[i]
		if d.Serial == "" {
			return fmt.Errorf("%w: devices[%d]: serial is required", ErrInvalidFile, i)
		}
		if seen[string(d.Serial)] {
			return fmt.Errorf("%w: duplicate device serial %q", ErrInvalidFile, d.Serial)
		}
		seen[string(d.Serial)] = true
		if d.Alias == "" {
			d.Alias = d.Serial
		}
		if strings.TrimSpace(d.Model) == "" {
			return fmt.Errorf("%w: device %s: model is required", ErrInvalidFile, d.Serial)
		}
		if d.Probes == 0 {
			d.Probes = 1
		}
		if d.Probes != 1 && d.Probes != 2 {
			return fmt.Errorf("%w: device %s: probes must be 1 or 2, got %d", ErrInvalidFile, d.Serial, d.Probes)
		}
	}

	if len(f.Serials) == 0 {
		return fmt.Errorf("%w: serials is required", ErrInvalidFile)
	}
	for _, s := range f.Serials {
		if !seen[string(s)] {
			return fmt.Errorf("%w: serial %q has no device entry", ErrInvalidFile, s)
		}
	}
	return nil
}

// CheckDirs verifies that log_dir exists.
func (f File) CheckDirs() error {
	info, err := os.Stat(f.LogDir)
	if err != nil {
		return fmt.Errorf("log_dir %q: %w", f.LogDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("log_dir %q is not a directory", f.LogDir)
	}
	return nil
}

// Selected returns the devices named in serials, sorted by alias.
func (f File) Selected() []Device {
	want := make(map[string]bool, len(f.Serials))
	for _, s := range f.Serials {
		want[string(s)] = true
	}
	var out []Device
	for _, d := range f.Devices {
		if want[string(d.Serial)] {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// DBPath is the store file of d: <log_dir>/<model>_<serial>.sqlite3.
func (f File) DBPath(d Device) string {
	return filepath.Join(f.LogDir, d.Model+"_"+string(d.Serial)+".sqlite3")
}
