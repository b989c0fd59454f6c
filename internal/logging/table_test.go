package logging

import (
	"math"
	"strings"
	"testing"
)

func TestMetricTableAlignment(t *testing.T) {
	table := NewMetricTable()
	table.AddMetricRow("Integrated Loudness", -23.4, -14.0, 1, "LUFS")
	table.AddMetricRow("Gain", math.NaN(), 9.4, 1, "dB")

	out := table.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3 (header + 2 rows)", len(lines))
	}

	if !strings.Contains(lines[0], "Before") || !strings.Contains(lines[0], "After") {
		t.Errorf("header row missing column names: %q", lines[0])
	}
	if !strings.Contains(lines[1], "-23.4") || !strings.Contains(lines[1], "-14.0") {
		t.Errorf("row missing values: %q", lines[1])
	}
	if !strings.Contains(lines[1], "LUFS") {
		t.Errorf("row missing unit: %q", lines[1])
	}
	// NaN renders as the missing-value placeholder
	if !strings.Contains(lines[2], MissingValue) {
		t.Errorf("NaN not rendered as %q: %q", MissingValue, lines[2])
	}
}

func TestMetricTableEmpty(t *testing.T) {
	table := NewMetricTable()
	if got := table.String(); got != "" {
		t.Errorf("empty table rendered %q, want empty string", got)
	}
}

func TestFormatMetric(t *testing.T) {
	tests := []struct {
		value    float64
		decimals int
		want     string
	}{
		{-14.04, 1, "-14.0"},
		{0, 2, "0.00"},
		{math.NaN(), 1, MissingValue},
		{math.Inf(-1), 1, MissingValue},
	}
	for _, tt := range tests {
		if got := formatMetric(tt.value, tt.decimals); got != tt.want {
			t.Errorf("formatMetric(%v, %d) = %q, want %q", tt.value, tt.decimals, got, tt.want)
		}
	}
}

func TestFormatMetricSigned(t *testing.T) {
	if got := formatMetricSigned(6.02, 1); got != "+6.0" {
		t.Errorf("formatMetricSigned(6.02) = %q, want +6.0", got)
	}
	if got := formatMetricSigned(-2.5, 1); got != "-2.5" {
		t.Errorf("formatMetricSigned(-2.5) = %q, want -2.5", got)
	}
	if got := formatMetricSigned(math.NaN(), 1); got != MissingValue {
		t.Errorf("formatMetricSigned(NaN) = %q, want %q", got, MissingValue)
	}
}
