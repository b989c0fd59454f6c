// Package logging handles generation of processing reports for
// standardised audio files

package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/linuxmatters/nightfever/internal/processor"
)

// ReportData contains all the information needed to generate a report
type ReportData struct {
	InputPath  string
	StartTime  time.Time
	EndTime    time.Time
	Result     *processor.Result
	LUFSTarget float64
}

// GenerateReport creates a processing report and saves it alongside the
// output file. The report filename will be <output>.log
func GenerateReport(data ReportData) error {
	if data.Result == nil || data.Result.OutputPath == "" {
		return fmt.Errorf("no output path to write report next to")
	}

	logPath := strings.TrimSuffix(data.Result.OutputPath, filepath.Ext(data.Result.OutputPath)) + ".log"

	f, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	defer f.Close()

	writeReportHeader(f, data)
	writeTrimSummary(f, data.Result)
	writeLoudnessSummary(f, data)
	writeEncodeSummary(f, data.Result)

	return nil
}

// writeSection writes a section header with title and dashed underline.
func writeSection(f *os.File, title string) {
	fmt.Fprintln(f, title)
	fmt.Fprintln(f, strings.Repeat("-", len(title)))
}

// writeReportHeader outputs the report header with file info and timestamp.
func writeReportHeader(f *os.File, data ReportData) {
	fmt.Fprintln(f, "Nightfever Processing Report")
	fmt.Fprintln(f, "============================")
	fmt.Fprintf(f, "File: %s\n", filepath.Base(data.InputPath))
	fmt.Fprintf(f, "Processed: %s\n", data.EndTime.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(f, "Elapsed: %s\n", formatDuration(data.EndTime.Sub(data.StartTime)))
	fmt.Fprintln(f, "")
}

// writeTrimSummary outputs the silence trim and padding section.
func writeTrimSummary(f *os.File, r *processor.Result) {
	writeSection(f, "Silence Trim")

	fmt.Fprintf(f, "Leading silence removed:  %s\n", formatMillis(r.TrimmedLeadMS))
	fmt.Fprintf(f, "Trailing silence removed: %s\n", formatMillis(r.TrimmedTrailMS))
	if r.TrimmedLeadMS == 0 && r.TrimmedTrailMS == 0 {
		fmt.Fprintln(f, "Note: nothing trimmed; either no silent edge was found or the")
		fmt.Fprintln(f, "whole clip sits below the threshold (the two are indistinguishable)")
	}

	table := NewMetricTable()
	table.AddRow("Duration",
		[]string{formatMillis(r.InputDurationMS), formatMillis(r.OutputDurationMS)}, "")
	fmt.Fprint(f, table.String())
	fmt.Fprintln(f, "")
}

// writeLoudnessSummary outputs the loudness normalisation section.
func writeLoudnessSummary(f *os.File, data ReportData) {
	writeSection(f, "Loudness Normalisation")

	r := data.Result
	table := NewMetricTable()
	table.AddMetricRow("Integrated Loudness", r.InputLUFS, r.InputLUFS+r.GainDB, 1, "LUFS")
	fmt.Fprint(f, table.String())
	fmt.Fprintf(f, "Target:       %.1f LUFS\n", data.LUFSTarget)
	fmt.Fprintf(f, "Gain applied: %s dB\n", formatMetricSigned(r.GainDB, 1))
	fmt.Fprintln(f, "")
}

// writeEncodeSummary outputs the export section.
func writeEncodeSummary(f *os.File, r *processor.Result) {
	writeSection(f, "Export")

	fmt.Fprintf(f, "Output: %s\n", filepath.Base(r.OutputPath))
	if r.BitrateKbps > 0 {
		fmt.Fprintf(f, "Bitrate: %d kbit/s (matched to source peak)\n", r.BitrateKbps)
	} else {
		fmt.Fprintln(f, "Bitrate: codec default")
	}
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}

	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60

	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}

	hours := minutes / 60
	minutes = minutes % 60
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}

// formatMillis renders a millisecond count as a human-readable duration
func formatMillis(ms int) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}
