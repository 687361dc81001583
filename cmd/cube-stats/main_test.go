package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/arkilian/cubecore/internal/cuboid"
	"github.com/arkilian/cubecore/internal/hllc"
	"github.com/arkilian/cubecore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintStatistics(t *testing.T) {
	stats := cuboid.NewStatistics(10)
	stats.SampleRowCount = 42
	stats.Degraded = true
	stats.OriginalEntries = 7
	for _, id := range []types.CuboidID{3, 1} {
		c := hllc.MustNew(10)
		c.AddString("a")
		stats.Estimators[id] = c
	}

	var buf bytes.Buffer
	require.NoError(t, printStatistics(&buf, stats))

	out := buf.String()
	assert.Contains(t, out, "sample rows:      42")
	assert.Contains(t, out, "degraded:         true (7 entries before cap)")

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Equal(t, []string{"CUBOID", "BITS", "ESTIMATE"}, strings.Fields(lines[len(lines)-3]))
	assert.Equal(t, []string{"1", "1", "1"}, strings.Fields(lines[len(lines)-2]))
	assert.Equal(t, []string{"3", "11", "1"}, strings.Fields(lines[len(lines)-1]))
}
