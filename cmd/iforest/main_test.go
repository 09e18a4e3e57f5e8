package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/goiforest/pkg/config"
	"github.com/hed1ad/goiforest/pkg/metrics"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestDemo(t *testing.T) {
	outfile := filepath.Join(t.TempDir(), "points.csv")

	stdout, _, err := execute(t, "demo", "--seed", "7", "--outfile", outfile, "--dump", "--dump-format", "table")
	require.NoError(t, err)

	for _, want := range []string{
		"Test 1:",
		"Test 2:",
		"Average of control test samples: ",
		"Average of control test samples (normalized): ",
		"Average of outlier test samples: ",
		"Average of outlier test samples (normalized): ",
		"Total time for Test 2: ",
		"FEATURE",
	} {
		assert.Contains(t, stdout, want)
	}

	raw, err := os.ReadFile(outfile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Len(t, lines, 100+10+10+1000+100+100)

	counts := make(map[string]int)
	for _, line := range lines {
		fields := strings.Split(line, ",")
		require.Len(t, fields, 3, line)
		counts[fields[0]]++
	}
	assert.Equal(t, map[string]int{"training": 1100, "control": 110, "outlier": 110}, counts)
}

func TestDemoOutfileWriteError(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}

	var out bytes.Buffer
	a := &app{cfg: config.Default()}
	err := a.runDemo(&out, demoOptions{outfile: "/dev/full"})
	assert.Error(t, err, "a full device must fail the run")
}

func TestDemoBadDumpFormat(t *testing.T) {
	_, _, err := execute(t, "demo", "--dump", "--dump-format", "xml")
	assert.Error(t, err)
}

func writeScoreFiles(t *testing.T) (train, input string) {
	t.Helper()
	dir := t.TempDir()
	train = filepath.Join(dir, "train.csv")
	input = filepath.Join(dir, "input.csv")

	var sb strings.Builder
	sb.WriteString("id,x,y\n")
	for i := 0; i < 50; i++ {
		sb.WriteString("t," + strconv.Itoa(i%7) + "," + strconv.Itoa(i%5) + "\n")
	}
	require.NoError(t, os.WriteFile(train, []byte(sb.String()), 0o600))
	require.NoError(t, os.WriteFile(input, []byte("id,x,y\nnear,3,2\nfar,500,-400\npartial,3,\n"), 0o600))
	return train, input
}

func TestScore(t *testing.T) {
	train, input := writeScoreFiles(t)
	output := filepath.Join(t.TempDir(), "out.csv")

	_, _, err := execute(t, "score",
		"--train", train, "--input", input, "--output", output,
		"--name-column", "id", "--trees", "20", "--sample-size", "16", "--seed", "3",
	)
	require.NoError(t, err)

	raw, err := os.ReadFile(output)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "name,score,path_length,is_anomaly", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "near,"))
	assert.True(t, strings.HasPrefix(lines[2], "far,"))
	assert.True(t, strings.HasSuffix(lines[2], ",true"), "far point should be flagged: %s", lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "partial,"))
}

func TestScoreEvaluatesEachQueryOnce(t *testing.T) {
	train, input := writeScoreFiles(t)

	reg := prometheus.NewRegistry()
	rec, err := metrics.NewRecorder(reg)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Trees = 10
	cfg.SampleSize = 16
	a := &app{cfg: cfg, registry: reg, recorder: rec}

	var out bytes.Buffer
	require.NoError(t, a.runScore(&out, io.Discard, scoreOptions{
		train:      train,
		input:      input,
		output:     "-",
		nameColumn: "id",
	}))
	assert.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), 4)

	families, err := reg.Gather()
	require.NoError(t, err)
	var scored float64
	for _, mf := range families {
		if mf.GetName() == "iforest_scores_total" {
			scored = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, 3.0, scored)
}

func TestScoreRequiresFiles(t *testing.T) {
	_, _, err := execute(t, "score")
	assert.Error(t, err)
}

func TestInvalidConfig(t *testing.T) {
	_, _, err := execute(t, "demo", "--trees", "0")
	assert.Error(t, err)

	_, _, err = execute(t, "demo", "--missing-route", "sideways")
	assert.Error(t, err)
}
