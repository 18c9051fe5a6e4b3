package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/hems/pkg/analysis"
	"github.com/raterudder/hems/pkg/types"
)

var header = []string{
	"time_step",
	"scenario",
	"solar_generation",
	"home_consumption",
	"grid_import",
	"grid_export",
	"cost",
	"is_peak",
}

// CSVWriter writes one analysis_<strategy>.csv per strategy into Dir.
type CSVWriter struct {
	Dir string
}

var _ analysis.ReportWriter = (*CSVWriter)(nil)

// Configured registers the report flags.
func Configured() *CSVWriter {
	dir := lflag.String("report-dir", "reports", "Directory analysis reports are written to")

	w := &CSVWriter{}
	lflag.Do(func() {
		w.Dir = *dir
	})
	return w
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteCSV writes the records to w with a header row.
func WriteCSV(w io.Writer, records []types.AnalysisRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range records {
		rec := []string{
			r.TimeStep,
			r.Scenario,
			formatFloat(r.SolarGeneration),
			formatFloat(r.HomeConsumption),
			formatFloat(r.GridImport),
			formatFloat(r.GridExport),
			formatFloat(r.Cost),
			strconv.FormatBool(r.IsPeak),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (c *CSVWriter) create(name string) (*os.File, string, error) {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("failed to create report dir %s: %w", c.Dir, err)
	}
	path := filepath.Join(c.Dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create report %s: %w", path, err)
	}
	return f, path, nil
}

// Write writes the strategy's records and returns the file path.
func (c *CSVWriter) Write(strategy string, records []types.AnalysisRecord) (string, error) {
	f, path, err := c.create("analysis_" + strategy + ".csv")
	if err != nil {
		return "", err
	}
	if err := WriteCSV(f, records); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write report %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close report %s: %w", path, err)
	}
	return path, nil
}

// WriteSummary writes the run summary as summary.json and returns its path.
func (c *CSVWriter) WriteSummary(summary analysis.Summary) (string, error) {
	f, path, err := c.create("summary.json")
	if err != nil {
		return "", err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write summary %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close summary %s: %w", path, err)
	}
	return path, nil
}
