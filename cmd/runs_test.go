package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/apportion/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	runs := []model.Run{
		{ID: "r1", Method: "wtd", Source: "postgis <- postgis", Status: model.RunStatusComplete, Areas: 40, AreasWithIssues: 3, StartedAt: start, FinishedAt: &end},
		{ID: "r2", Method: "none", Source: "a.geojson <- tigerweb", Status: model.RunStatusRunning, StartedAt: start},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)
	out := buf.String()
	assert.Contains(t, out, "METHOD")
	assert.Contains(t, out, "r1")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "a.geojson <- tigerweb")
}

func TestFormatRunHeader(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r := &model.Run{ID: "r3", Method: "gt50", Status: model.RunStatusFailed, Error: "apportion: read areas: timeout", StartedAt: start}

	var buf bytes.Buffer
	formatRunHeader(&buf, r)
	assert.Contains(t, buf.String(), "Run:      r3")
	assert.Contains(t, buf.String(), "Duration: -")
	assert.Contains(t, buf.String(), "Error:    apportion: read areas: timeout")
}
