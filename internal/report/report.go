package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sigprobe/sigprobe/internal/scenario"
	"github.com/sigprobe/sigprobe/internal/validation"
)

// Text writes each report's lines under a section header.
func Text(w io.Writer, reports []*scenario.Report) error {
	for i, r := range reports {
		if r == nil {
			continue
		}
		if len(reports) > 1 {
			if i > 0 {
				if _, err := fmt.Fprintln(w); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintln(w, SectionHeader(r)); err != nil {
				return err
			}
		}
		for _, line := range r.Lines {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}

func SectionHeader(r *scenario.Report) string {
	return fmt.Sprintf("=== %s (ran for %v) ===", r.Scenario, r.Duration.Round(time.Millisecond))
}

type document struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Reports     []*scenario.Report `json:"reports"`
}

// JSON writes every report as one indented document.
func JSON(w io.Writer, reports []*scenario.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(document{GeneratedAt: time.Now().UTC(), Reports: reports})
}

// CSV writes one row per worker interaction.
func CSV(w io.Writer, reports []*scenario.Report) error {
	writer := csv.NewWriter(w)

	header := []string{"scenario", "worker", "primitive", "state", "tid", "signal", "masked", "nominal_s", "elapsed_s", "interrupted", "canceled", "deferred", "paused", "kernel_signals"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, r := range reports {
		if r == nil {
			continue
		}
		for _, res := range r.Results {
			kernel := ""
			if res.KernelSignals != nil {
				kernel = strconv.FormatUint(*res.KernelSignals, 10)
			}
			record := []string{
				validation.SanitizeCSVField(r.Scenario),
				validation.SanitizeCSVField(res.Worker),
				validation.SanitizeCSVField(res.Primitive),
				res.State,
				strconv.Itoa(res.TID),
				strconv.Itoa(res.Signal),
				strconv.FormatBool(res.Masked),
				fmt.Sprintf("%.6f", res.Nominal.Seconds()),
				fmt.Sprintf("%.6f", res.Elapsed.Seconds()),
				strconv.FormatBool(res.Interrupted),
				strconv.FormatBool(res.Canceled),
				strconv.FormatBool(res.Deferred),
				strconv.FormatBool(res.Paused),
				kernel,
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

// Export writes reports in format: text, json or csv.
func Export(w io.Writer, format string, reports []*scenario.Report) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return Text(w, reports)
	case "json":
		return JSON(w, reports)
	case "csv":
		return CSV(w, reports)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}
