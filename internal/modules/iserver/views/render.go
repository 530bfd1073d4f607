package views

import (
	"embed"
	"errors"
	"html/template"
	"io"
	"io/fs"
)

//go:embed templates
var viewsFS embed.FS

var dashboardTmpl *template.Template

var errNotLoaded = errors.New("templates not loaded: call views.LoadTemplates during startup")

// loadTemplatesFromFS loads the page templates from the given fs and dir.
// Used by LoadTemplates and by tests to simulate failure scenarios.
func loadTemplatesFromFS(fsys fs.FS, dir string) error {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return err
	}
	dashboardTmpl, err = template.ParseFS(sub, "*.html", "partials/*.html")
	if err != nil {
		return err
	}
	return nil
}

// LoadTemplates loads the embedded templates. Call during startup before
// serving requests; if it returns an error, do not start the server.
func LoadTemplates() error {
	return loadTemplatesFromFS(viewsFS, "templates")
}

func render(w io.Writer, name string, data any) error {
	if dashboardTmpl == nil {
		return errNotLoaded
	}
	return dashboardTmpl.ExecuteTemplate(w, name, data)
}

// Option is one entry of a select element.
type Option struct {
	Value    string
	Text     string
	Selected bool
}

// DashboardData is the view model of the dashboard page.
type DashboardData struct {
	Title          string
	Version        string
	RefreshSeconds int
	Labels         []Option
	Kinds          []Option
	Start          string
	End            string
}

func RenderDashboard(w io.Writer, data *DashboardData) error {
	return render(w, "dashboard.html", data)
}

// Value is one named number of a current reading, already formatted.
type Value struct {
	Name string
	Text string
}

// CurrentDevice is one line of the current readings panel.
type CurrentDevice struct {
	Header string
	Error  string
	// Probes holds one row of values per probe.
	Probes [][]Value
}

type CurrentData struct {
	Devices []CurrentDevice
}

// RenderCurrentPartial executes only the current readings partial into w.
// Use for HTMX fragment refresh.
func RenderCurrentPartial(w io.Writer, data *CurrentData) error {
	return render(w, "partials/current.html", data)
}

// SummaryRow is one row of the summary table. Statistics are formatted text;
// they are empty when there are no points.
type SummaryRow struct {
	Label        string
	ReportNumber string
	Description  string
	Average      string
	Stdev        string
	Median       string
	Max          string
	Min          string
	Count        int
	OutOfRange   bool
}

type SummaryData struct {
	Kind        string
	Start       string
	End         string
	Rows        []SummaryRow
	DownloadURL string
}

// RenderSummaryPartial executes only the summary table partial into w.
func RenderSummaryPartial(w io.Writer, data *SummaryData) error {
	return render(w, "partials/summary.html", data)
}

// Endpoint documents one API route on the help page.
type Endpoint struct {
	Name        string
	Path        string
	Description string
	Params      []Param
	Examples    []Example
}

type Param struct {
	Name        string
	Type        string
	Description string
}

type Example struct {
	URL         string
	Description string
}

type HelpData struct {
	Version   string
	Endpoints []Endpoint
}

func RenderHelp(w io.Writer, data *HelpData) error {
	return render(w, "help.html", data)
}
