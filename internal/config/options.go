package config

import (
	"fmt"
	"math"
	"time"

	"github.com/caarlos0/env/v11"
)

// Options tune the analysis. They are read from the environment.
type Options struct {
	InstrBegin        uint64        `env:"INSTR_BEGIN" envDefault:"0"`
	InstrEnd          uint64        `env:"INSTR_END"`
	Verbose           int           `env:"TOOL_VERBOSE" envDefault:"0"`
	KernelID          string        `env:"KERNELID"`
	DedupCapacity     int           `env:"DEDUP_CAPACITY" envDefault:"20000"`
	DedupPolicy       string        `env:"DEDUP_POLICY" envDefault:"bounded"`
	Coarse            bool          `env:"COARSE" envDefault:"true"`
	Workers           int           `env:"WORKERS"`
	NumBuffers        int           `env:"NUM_BUFFERS" envDefault:"768"`
	BufferRecords     int           `env:"BUFFER_RECORDS" envDefault:"4096"`
	StallTimeout      time.Duration `env:"STALL_TIMEOUT" envDefault:"2s"`
	FilterAllocations bool          `env:"FILTER_ALLOCATIONS" envDefault:"true"`
	MaxAllocations    int           `env:"MAX_ALLOCATIONS" envDefault:"4096"`
	ReportFilter      string        `env:"REPORT_FILTER"`
	Attributes        string        `env:"SCOPE_ADVICE_ATTRIBUTES"`
}

// DefaultOptions returns the options used when the environment is empty.
func DefaultOptions() Options {
	return Options{
		InstrEnd:          math.MaxUint64,
		DedupCapacity:     20000,
		DedupPolicy:       "bounded",
		Coarse:            true,
		Workers:           DefaultWorkers(),
		NumBuffers:        768,
		BufferRecords:     4096,
		StallTimeout:      2 * time.Second,
		FilterAllocations: true,
		MaxAllocations:    4096,
	}
}

// ParseOptions parses analysis options from environment variables
func ParseOptions() (*Options, error) {
	var opts Options
	if err := env.Parse(&opts); err != nil {
		return nil, fmt.Errorf("failed to parse options: %w", err)
	}
	if opts.InstrEnd == 0 {
		opts.InstrEnd = math.MaxUint64
	}
	if opts.Workers == 0 {
		opts.Workers = DefaultWorkers()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}

// Validate checks value ranges the environment parser cannot express.
func (o *Options) Validate() error {
	switch {
	case o.InstrBegin >= o.InstrEnd:
		return fmt.Errorf("INSTR_BEGIN (%d) must be below INSTR_END (%d)", o.InstrBegin, o.InstrEnd)
	case o.Workers < 1:
		return fmt.Errorf("WORKERS must be positive, got %d", o.Workers)
	case o.NumBuffers < 1:
		return fmt.Errorf("NUM_BUFFERS must be positive, got %d", o.NumBuffers)
	case o.BufferRecords < 1:
		return fmt.Errorf("BUFFER_RECORDS must be positive, got %d", o.BufferRecords)
	case o.DedupCapacity < 0:
		return fmt.Errorf("DEDUP_CAPACITY cannot be negative, got %d", o.DedupCapacity)
	case o.DedupPolicy != "bounded" && o.DedupPolicy != "lru":
		return fmt.Errorf("DEDUP_POLICY must be bounded or lru, got %q", o.DedupPolicy)
	case o.MaxAllocations < 0:
		return fmt.Errorf("MAX_ALLOCATIONS cannot be negative, got %d", o.MaxAllocations)
	}
	return nil
}

// Dedup reports whether de-duplication is enabled.
func (o *Options) Dedup() bool {
	return o.DedupCapacity > 0
}
