package slog

import (
	"bytes"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/storecache"
)

func TestAttrsSortedAndLevelFiltered(t *testing.T) {
	var buf bytes.Buffer
	l := Logger{L: stdslog.New(stdslog.NewTextHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelInfo}))}

	l.Debug("dropped", storecache.Fields{"k": 1})
	l.Info("section refresh", storecache.Fields{"sections": "cart-drawer", "elapsed": 3})

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("debug line should be filtered: %s", out)
	}
	if !strings.Contains(out, "elapsed=3 sections=cart-drawer") {
		t.Fatalf("attrs not sorted: %s", out)
	}
}
