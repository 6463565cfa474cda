package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewParsesLevelAndFormat(t *testing.T) {
	log := New(LoggingConfig{Level: "debug", Format: "json"})
	if log.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
	if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("expected json formatter, got %T", log.Formatter)
	}

	fallback := New(LoggingConfig{Level: "nonsense"})
	if fallback.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info fallback, got %s", fallback.GetLevel())
	}
}

func TestNewDefaultTagsComponent(t *testing.T) {
	log := NewDefault("treasury")
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})

	log.WithField("player", "alice").Info("deposit")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["component"] != "treasury" {
		t.Fatalf("component not set: %v", entry)
	}
	if entry["player"] != "alice" {
		t.Fatalf("field not set: %v", entry)
	}
}
