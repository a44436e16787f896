package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReportArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want reportArgs
	}{
		{"defaults", nil, reportArgs{}},
		{"dates only", []string{"2026-01-01", "2026-02-01"}, reportArgs{start: "2026-01-01", end: "2026-02-01"}},
		{"flags after dates", []string{"2026-01-01", "--by", "utm", "--json"}, reportArgs{start: "2026-01-01", by: "utm", json: true}},
		{"flags first", []string{"--by=referrer", "--tables", "2026-01-01", "2026-01-31"}, reportArgs{start: "2026-01-01", end: "2026-01-31", by: "referrer", tables: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseReportArgs(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseReportArgsErrors(t *testing.T) {
	for _, args := range [][]string{
		{"--by"},
		{"--verbose"},
		{"2026-01-01", "2026-01-02", "2026-01-03"},
	} {
		_, err := parseReportArgs(args)
		assert.Error(t, err, "%v", args)
	}
}

func TestFindCommand(t *testing.T) {
	for _, name := range []string{"report", "migrate", "status", "exclude-ips", "replay", "help"} {
		assert.NotNil(t, findCommand(name), name)
	}
	assert.Nil(t, findCommand("seed"))
}
