package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != LevelInfo || cfg.Pretty {
		t.Errorf("DefaultConfig() = %+v, want info level JSON output", cfg)
	}
}

// TestSetup_LevelThreshold checks which of the engine's events survive at
// each configured level.
func TestSetup_LevelThreshold(t *testing.T) {
	emit := func(logger zerolog.Logger) {
		logger.Debug().Int("start_index", 2000).Msg("page fetched")
		logger.Info().Int("total_results", 5000).Msg("run started")
		logger.Warn().Int("attempt", 1).Msg("retrying after 503")
		logger.Error().Str("url", "http://nvd.test").Msg("run failed")
	}

	tests := []struct {
		level LogLevel
		want  []string
		drop  []string
	}{
		{LevelDebug, []string{"page fetched", "run started", "retrying after 503", "run failed"}, nil},
		{LevelInfo, []string{"run started", "retrying after 503", "run failed"}, []string{"page fetched"}},
		{LevelWarn, []string{"retrying after 503", "run failed"}, []string{"page fetched", "run started"}},
		{LevelError, []string{"run failed"}, []string{"run started", "retrying after 503"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := &bytes.Buffer{}
			emit(Setup(Config{Level: tt.level, Output: buf}))

			out := buf.String()
			for _, msg := range tt.want {
				if !strings.Contains(out, msg) {
					t.Errorf("%s output lacks %q: %s", tt.level, msg, out)
				}
			}
			for _, msg := range tt.drop {
				if strings.Contains(out, msg) {
					t.Errorf("%s output should not contain %q", tt.level, msg)
				}
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
		wantErr  bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"verbose", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if result != tt.expected {
				t.Errorf("ParseLevel(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLevelOrInfo(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel}, // Should default to Info
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if result := levelOrInfo(tt.input); result != tt.expected {
				t.Errorf("levelOrInfo(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSetup_Pretty(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelInfo, Pretty: true, Output: buf})

	logger.Info().Str("records", "2000").Msg("Fetch complete")

	output := buf.String()
	if strings.HasPrefix(output, "{") {
		t.Errorf("pretty output should not be JSON, got %q", output)
	}
	if !strings.Contains(output, "Fetch complete") || !strings.Contains(output, "records=") {
		t.Errorf("unexpected pretty output %q", output)
	}
}

func TestNewLogger_ComponentField(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	logger := NewLogger("paginator")
	logger.Info().Int("pages", 3).Msg("listing complete")

	out := buf.String()
	for _, want := range []string{`"component":"paginator"`, `"pages":3`, "listing complete"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %s: %s", want, out)
		}
	}
}
