package sweep

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrzor/scope-advice/internal/analysis"
	"github.com/mrzor/scope-advice/internal/config"
	"github.com/mrzor/scope-advice/internal/record"
	"github.com/mrzor/scope-advice/internal/tracefile"
)

func fenceRec(id uint32) [record.Size]byte {
	return record.SyncFence{ThreadID: 0, FenceID: id}.Encode()
}

func ctaLoad(epoch uint32) [record.Size]byte {
	return record.MemoryAccess{Addr: 0x40, Info: record.NewInfo(true, false, record.ScopeCTA, 0, epoch)}.Encode()
}

func writeTrace(t *testing.T, path, kernel string, recs ...[record.Size]byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := tracefile.NewWriter(f)
	require.NoError(t, err)
	require.NoError(t, w.BeginKernel(tracefile.Header{
		Kernel:          kernel,
		Threads:         64,
		ThreadsPerBlock: 64,
		Sites:           map[uint32]string{1: "k.cu:1", 2: "k.cu:2", 3: "k.cu:3"},
	}))
	for _, r := range recs {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())
}

func testOptions() config.Options {
	opts := config.DefaultOptions()
	opts.Workers = 1
	opts.NumBuffers = 2
	opts.BufferRecords = 16
	opts.StallTimeout = 0
	return opts
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "inputs.txt"), []byte("c.trace\n\n# comment\n/abs/d.trace\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conf.yaml"), []byte(`
kernels: [reduce, scan]
traces: [a.trace, b.trace]
input_file: inputs.txt
tests: 3
`), 0o600))

	cfg, err := LoadConfig(filepath.Join(dir, "conf.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"reduce", "scan"}, cfg.Kernels)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.trace"),
		filepath.Join(dir, "b.trace"),
		filepath.Join(dir, "c.trace"),
	}, cfg.Traces)
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.yaml")

	require.NoError(t, os.WriteFile(path, []byte("kernels: []\n"), 0o600))
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "no kernels")
	assert.ErrorContains(t, err, "no traces")

	require.NoError(t, os.WriteFile(path, []byte("kernels: [\n"), 0o600))
	_, err = LoadConfig(path)
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestRunner_IntersectsAdvice(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.trace")
	b := filepath.Join(dir, "b.trace")
	c := filepath.Join(dir, "c.trace")
	// a: epochs 1, 2, 3 are all redundant
	writeTrace(t, a, "reduce", fenceRec(1), fenceRec(2), fenceRec(3))
	// b: a load relies on epoch 2
	writeTrace(t, b, "reduce", fenceRec(1), fenceRec(2), ctaLoad(2), fenceRec(3))
	// c: another kernel only
	writeTrace(t, c, "scan", fenceRec(1))

	r := NewRunner(testOptions(), nil)
	var reports []*analysis.Report
	r.OnReport = func(rep *analysis.Report) error {
		reports = append(reports, rep)
		return nil
	}

	results, err := r.Run(context.Background(), &Config{Kernels: []string{"reduce"}, Traces: []string{a, b, c}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, "reduce", res.Kernel)
	assert.Equal(t, 2, res.Inputs)
	assert.Equal(t, []int64{1, 3}, res.Epochs())
	assert.Len(t, reports, 2)

	var buf bytes.Buffer
	require.NoError(t, res.Write(&buf))
	assert.Equal(t,
		"Suggestions after iterating over inputs for reduce kernel\n"+
			"Fence@k.cu:1 | Epoch: 1 | Info: -/- | Type: redundant\n"+
			"Fence@k.cu:3 | Epoch: 3 | Info: -/- | Type: redundant\n",
		buf.String())
}

func TestRunner_EmptyInputEmptiesResult(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.trace")
	b := filepath.Join(dir, "b.trace")
	writeTrace(t, a, "reduce", fenceRec(1), ctaLoad(1))
	writeTrace(t, b, "reduce", fenceRec(1))

	res, err := NewRunner(testOptions(), nil).Kernel(context.Background(), "reduce", []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inputs)
	assert.Empty(t, res.Epochs())
}

func TestRunner_MissingTrace(t *testing.T) {
	_, err := NewRunner(testOptions(), nil).Kernel(context.Background(), "reduce", []string{"/nonexistent.trace"})
	assert.Error(t, err)
}
