package config

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs_Replay(t *testing.T) {
	args := []string{"scope-advice", "replay", "kernel.trace"}
	cfg, err := ParseArgs(args, "")

	require.NoError(t, err)
	assert.Equal(t, CommandReplay, cfg.Command)
	assert.Equal(t, "kernel.trace", cfg.Path)
	assert.Empty(t, cfg.TraceID)
	assert.Empty(t, cfg.CustomAttributes)
}

func TestParseArgs_Sweep(t *testing.T) {
	cfg, err := ParseArgs([]string{"scope-advice", "sweep", "conf.yaml"}, "")
	require.NoError(t, err)
	assert.Equal(t, CommandSweep, cfg.Command)
}

func TestParseArgs_Live(t *testing.T) {
	cfg, err := ParseArgs([]string{"scope-advice", "live", "/sys/fs/bpf/scope_adv_rb"}, "")
	require.NoError(t, err)
	assert.Equal(t, CommandLive, cfg.Command)
	assert.Equal(t, "/sys/fs/bpf/scope_adv_rb", cfg.Path)
}

func TestParseArgs_Flags(t *testing.T) {
	args := []string{
		"scope-advice",
		"-t", `kernel + input`,
		"--parent-id", "0123456789abcdef",
		"-a", "site=location",
		"--attribute", "check=epoch==\"3\"",
		"replay", "k.trace",
	}
	cfg, err := ParseArgs(args, "")
	require.NoError(t, err)
	assert.Equal(t, `kernel + input`, cfg.TraceID)
	assert.Equal(t, "0123456789abcdef", cfg.ParentID)

	require.Len(t, cfg.CustomAttributes, 2)
	assert.Equal(t, CustomAttribute{Name: "site", Expression: "location"}, cfg.CustomAttributes[0])
	assert.Equal(t, CustomAttribute{Name: "check", Expression: "epoch==\"3\""}, cfg.CustomAttributes[1])
}

func TestParseArgs_EnvAttributesComeFirst(t *testing.T) {
	args := []string{"scope-advice", "-a", "b=2", "replay", "k.trace"}
	cfg, err := ParseArgs(args, "a=1")
	require.NoError(t, err)
	require.Len(t, cfg.CustomAttributes, 2)
	assert.Equal(t, "a", cfg.CustomAttributes[0].Name)
	assert.Equal(t, "b", cfg.CustomAttributes[1].Name)
}

func TestParseArgs_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  string
		want string
	}{
		{"no args", nil, "", "no arguments"},
		{"missing path", []string{"scope-advice", "replay"}, "", "Usage"},
		{"extra positional", []string{"scope-advice", "replay", "a", "b"}, "", "Usage"},
		{"unknown command", []string{"scope-advice", "record", "a"}, "", "unknown command"},
		{"flag without value", []string{"scope-advice", "replay", "a", "-a"}, "", "requires a value"},
		{"attribute without equals", []string{"scope-advice", "-a", "nope", "replay", "a"}, "", "name=expression"},
		{"empty name", []string{"scope-advice", "-a", "=x", "replay", "a"}, "", "name cannot be empty"},
		{"empty expression", []string{"scope-advice", "-a", "x=", "replay", "a"}, "", "expression cannot be empty"},
		{"bad env attributes", []string{"scope-advice", "replay", "a"}, "broken", "environment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseArgs(tt.args, tt.env)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseArgs_WhitespaceInAttribute(t *testing.T) {
	args := []string{"scope-advice", "-a", "  name  =  value  ", "replay", "k"}
	cfg, err := ParseArgs(args, "")
	require.NoError(t, err)
	assert.Equal(t, "name", cfg.CustomAttributes[0].Name)
	assert.Equal(t, "value", cfg.CustomAttributes[0].Expression)
}

func TestParseAttributeString(t *testing.T) {
	attrs, err := ParseAttributeString(`foo=bar; baz=kernel ;;`)
	require.NoError(t, err)
	require.Len(t, attrs, 2)
	assert.Equal(t, "bar", attrs[0].Expression)
	assert.Equal(t, "kernel", attrs[1].Expression)

	attrs, err = ParseAttributeString("")
	require.NoError(t, err)
	assert.Empty(t, attrs)
}

func TestParseOptions_Defaults(t *testing.T) {
	opts, err := ParseOptions()
	require.NoError(t, err)

	assert.Equal(t, uint64(0), opts.InstrBegin)
	assert.Equal(t, uint64(math.MaxUint64), opts.InstrEnd)
	assert.Equal(t, 20000, opts.DedupCapacity)
	assert.Equal(t, "bounded", opts.DedupPolicy)
	assert.True(t, opts.Coarse)
	assert.True(t, opts.FilterAllocations)
	assert.Equal(t, 768, opts.NumBuffers)
	assert.Equal(t, 2*time.Second, opts.StallTimeout)
	assert.GreaterOrEqual(t, opts.Workers, 1)
	assert.True(t, opts.Dedup())

	defaults := DefaultOptions()
	defaults.Workers = opts.Workers
	assert.Equal(t, defaults, *opts)
}

func TestParseOptions_FromEnvironment(t *testing.T) {
	t.Setenv("INSTR_BEGIN", "10")
	t.Setenv("INSTR_END", "20")
	t.Setenv("TOOL_VERBOSE", "2")
	t.Setenv("KERNELID", "reduce")
	t.Setenv("DEDUP_CAPACITY", "0")
	t.Setenv("DEDUP_POLICY", "lru")
	t.Setenv("COARSE", "false")
	t.Setenv("WORKERS", "3")
	t.Setenv("STALL_TIMEOUT", "150ms")
	t.Setenv("REPORT_FILTER", `type != "redundant"`)

	opts, err := ParseOptions()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), opts.InstrBegin)
	assert.Equal(t, uint64(20), opts.InstrEnd)
	assert.Equal(t, 2, opts.Verbose)
	assert.Equal(t, "reduce", opts.KernelID)
	assert.False(t, opts.Dedup())
	assert.Equal(t, "lru", opts.DedupPolicy)
	assert.False(t, opts.Coarse)
	assert.Equal(t, 3, opts.Workers)
	assert.Equal(t, 150*time.Millisecond, opts.StallTimeout)
	assert.Equal(t, `type != "redundant"`, opts.ReportFilter)
}

func TestParseOptions_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"empty interval", "INSTR_BEGIN", "18446744073709551615"},
		{"bad policy", "DEDUP_POLICY", "fifo"},
		{"negative workers", "WORKERS", "-2"},
		{"no buffers", "NUM_BUFFERS", "0"},
		{"not a number", "NUM_BUFFERS", "many"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := ParseOptions()
			assert.Error(t, err)
		})
	}
}

func TestDefaultWorkers(t *testing.T) {
	assert.GreaterOrEqual(t, DefaultWorkers(), 1)
}

func TestOTELConfig(t *testing.T) {
	cfg, err := ParseOTELConfig()
	require.NoError(t, err)
	assert.Equal(t, "scope-advice", cfg.ServiceName)
	assert.False(t, cfg.Enabled())
	assert.Equal(t, "localhost:4318", cfg.GetEndpoint())

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_RESOURCE_ATTRIBUTES", "host=gpu01, team = perf,broken")
	cfg, err = ParseOTELConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Enabled())
	assert.Equal(t, "collector:4318", cfg.GetEndpoint())

	attrs := cfg.ParseResourceAttributes()
	require.Len(t, attrs, 2)
	assert.Equal(t, "team", string(attrs[1].Key))
	assert.Equal(t, "perf", attrs[1].Value.AsString())
}

func TestParseLiveConfig(t *testing.T) {
	t.Setenv("LIVE_KERNEL", "reduce")
	t.Setenv("LIVE_THREADS", "4096")
	t.Setenv("LIVE_BLOCK", "256")
	t.Setenv("LIVE_SITES", "1=reduce.cu:10; 2 = reduce.cu:20;")

	cfg, err := ParseLiveConfig()
	require.NoError(t, err)
	assert.Equal(t, "reduce", cfg.Kernel)
	assert.Equal(t, uint64(4096), cfg.Threads)
	assert.Equal(t, uint32(256), cfg.ThreadsPerBlock)

	sites, err := cfg.SiteMap()
	require.NoError(t, err)
	assert.Equal(t, map[uint32]string{1: "reduce.cu:10", 2: "reduce.cu:20"}, sites)

	for _, bad := range []string{"reduce.cu:10", "x=reduce.cu:10"} {
		cfg.Sites = bad
		_, err = cfg.SiteMap()
		assert.Error(t, err, bad)
	}
}

func TestParseLiveConfig_MissingGeometry(t *testing.T) {
	t.Setenv("LIVE_THREADS", "")
	t.Setenv("LIVE_BLOCK", "64")
	_, err := ParseLiveConfig()
	assert.Error(t, err)
}
