package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type hosts []string

func (hosts) Headers() []string { return []string{"Host"} }

func (h hosts) Rows() [][]string {
	rows := make([][]string, len(h))
	for i, id := range h {
		rows[i] = []string{id}
	}
	return rows
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"TABLE", FormatTable, false},
		{" json ", FormatJSON, false},
		{"yml", FormatYAML, false},
		{"yaml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender(t *testing.T) {
	t.Run("table with headers", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Render(&buf, FormatTable, hosts{"node-a", "node-b"}))
		out := buf.String()
		assert.Contains(t, out, "HOST")
		assert.Contains(t, out, "node-b")
	})

	t.Run("fields", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Render(&buf, FormatTable, Fields{{"Rule", "push"}, {"Blocks", "3"}}))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], "Rule")
		assert.Contains(t, lines[0], "push")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Render(&buf, FormatJSON, map[string]int{"rank": 3}))
		var got map[string]int
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, 3, got["rank"])
	})

	t.Run("table falls back to yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Render(&buf, FormatTable, map[string]string{"host": "node-a"}))
		var got map[string]string
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, "node-a", got["host"])
	})

	t.Run("unknown format", func(t *testing.T) {
		assert.Error(t, Render(&bytes.Buffer{}, "xml", nil))
	})
}

func TestUptime(t *testing.T) {
	assert.Equal(t, "42s", Uptime(42*time.Second))
	assert.Equal(t, "2m 5s", Uptime(2*time.Minute+5*time.Second+300*time.Millisecond))
	assert.Equal(t, "1h 0m 1s", Uptime(time.Hour+time.Second))
	assert.Equal(t, "3d 0h 30m 15s", Uptime(72*time.Hour+30*time.Minute+15*time.Second))
}

func TestTimestamp(t *testing.T) {
	assert.Equal(t, "-", Timestamp(time.Time{}))
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.Local)
	assert.Equal(t, "2024-03-01 12:30:00", Timestamp(ts))
}
