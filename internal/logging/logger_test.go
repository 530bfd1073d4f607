package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/MSLNZ/pr-omega-logger/internal/config"
)

func TestNewHandler(t *testing.T) {
	cfg := config.Config{AppEnv: "prod", LogLevel: slog.LevelInfo}

	t.Run("json outside dev", func(t *testing.T) {
		var buf bytes.Buffer
		slog.New(NewHandler(&buf, cfg, "1.2.3")).Info("hello", "k", "v")
		var got map[string]any
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
		}
		if got["msg"] != "hello" || got["k"] != "v" {
			t.Errorf("record = %v", got)
		}
	})

	t.Run("level is honoured", func(t *testing.T) {
		var buf bytes.Buffer
		slog.New(NewHandler(&buf, cfg, "1.2.3")).Debug("hidden")
		if buf.Len() != 0 {
			t.Errorf("debug written at info level: %q", buf.String())
		}
	})

	t.Run("tint in dev", func(t *testing.T) {
		var buf bytes.Buffer
		slog.New(NewHandler(&buf, cfg, "dev")).Info("hello")
		if !strings.Contains(buf.String(), "hello") {
			t.Errorf("output = %q; want containing hello", buf.String())
		}
		if json.Valid(bytes.TrimSpace(buf.Bytes())) {
			t.Errorf("dev output should not be JSON: %q", buf.String())
		}
	})
}

func TestFanout(t *testing.T) {
	var a, b bytes.Buffer
	ha := slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelDebug})
	hb := slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn})
	logger := slog.New(Fanout(ha, hb)).With("store", "x.sqlite3")

	logger.Info("copied")
	logger.Warn("mismatch")

	if !strings.Contains(a.String(), "copied") || !strings.Contains(a.String(), "mismatch") {
		t.Errorf("debug handler output = %q; want both records", a.String())
	}
	if strings.Contains(b.String(), "copied") {
		t.Errorf("warn handler got info record: %q", b.String())
	}
	if !strings.Contains(b.String(), "mismatch") || !strings.Contains(b.String(), "store=x.sqlite3") {
		t.Errorf("warn handler output = %q; want mismatch with store attr", b.String())
	}
}

func TestWithFile(t *testing.T) {
	var file bytes.Buffer
	logger := WithFile(config.Config{AppEnv: "prod", LogLevel: slog.LevelError}, "1.0.0", "omega-logger", &file)
	logger.Info("----- START  BACKUP -----")
	if !strings.Contains(file.String(), "START  BACKUP") {
		t.Errorf("file output = %q; want backup banner", file.String())
	}
	if !strings.Contains(file.String(), "app=omega-logger") {
		t.Errorf("file output = %q; want app attr", file.String())
	}
}
