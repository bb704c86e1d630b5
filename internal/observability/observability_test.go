package observability

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn")
	logger.Info("skipped")
	logger.Warn("kept", "session_id", "s-1")

	out := buf.String()
	if strings.Contains(out, "skipped") {
		t.Fatalf("info should be filtered at warn level")
	}
	if !strings.Contains(out, `"session_id":"s-1"`) {
		t.Fatalf("expected structured field, got %s", out)
	}
}

func TestMetricsHandler(t *testing.T) {
	PositionsRecorded.Inc()

	app := fiber.New()
	app.Get("/metrics", MetricsHandler())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "findme_positions_recorded_total") {
		t.Fatalf("expected counter in metrics output")
	}
}
