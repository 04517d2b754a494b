package util

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	columns := []TableColumn{
		{Header: "NAME", Key: "name"},
		{Header: "CONTROL", Key: "control"},
	}
	rows := []map[string]interface{}{
		{"name": "garage", "control": "10.0.0.5:8765"},
		{"name": "lab", "control": "192.168.1.20:8765"},
	}

	RenderTable(&buf, columns, rows)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 4)
	assert.Equal(t, "NAME   CONTROL", lines[0])
	assert.Equal(t, "------ -----------------", lines[1])
	assert.Equal(t, "garage 10.0.0.5:8765", lines[2])
}

func TestRenderTableIgnoresColorCodes(t *testing.T) {
	prev := color.NoColor
	color.NoColor = false
	defer func() { color.NoColor = prev }()

	var buf bytes.Buffer
	columns := []TableColumn{{Header: "NAME", Key: "name"}, {Header: "X", Key: "x"}}
	rows := []map[string]interface{}{{"name": color.GreenString("ab"), "x": "1"}}

	RenderTable(&buf, columns, rows)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Equal(t, 4+1+1, displayWidth(lines[2]))
}

func TestRenderTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	RenderTable(&buf, []TableColumn{{Header: "NAME", Key: "name"}}, nil)
	assert.Equal(t, "No data to display\n", buf.String())
}
