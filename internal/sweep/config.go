// Package sweep runs the analysis of each configured kernel over several
// captured inputs and keeps only the advice that holds for all of them.
package sweep

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the sweep configuration file.
//
//	kernels: [reduce, scan]
//	traces: [small.trace, large.trace]
//	input_file: inputs.txt   # one trace path per line, appended to traces
//	tests: 2                 # use only the first n inputs
type Config struct {
	Kernels   []string `yaml:"kernels"`
	Traces    []string `yaml:"traces"`
	InputFile string   `yaml:"input_file"`
	Tests     int      `yaml:"tests"`
}

// LoadConfig reads a sweep configuration. Relative paths are resolved
// against the directory of the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user supplied configuration
	if err != nil {
		return nil, fmt.Errorf("reading sweep config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing sweep config %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if cfg.InputFile != "" {
		inputs, err := readInputs(resolve(dir, cfg.InputFile))
		if err != nil {
			return nil, err
		}
		cfg.Traces = append(cfg.Traces, inputs...)
	}
	for i, t := range cfg.Traces {
		cfg.Traces[i] = resolve(dir, t)
	}
	if cfg.Tests > 0 && cfg.Tests < len(cfg.Traces) {
		cfg.Traces = cfg.Traces[:cfg.Tests]
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sweep config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks that there is something to sweep.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Kernels) == 0 {
		errs = append(errs, errors.New("no kernels"))
	}
	if len(c.Traces) == 0 {
		errs = append(errs, errors.New("no traces"))
	}
	if c.Tests < 0 {
		errs = append(errs, fmt.Errorf("tests cannot be negative, got %d", c.Tests))
	}
	for _, k := range c.Kernels {
		if strings.TrimSpace(k) == "" {
			errs = append(errs, errors.New("empty kernel name"))
		}
	}
	return errors.Join(errs...)
}

func resolve(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func readInputs(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // user supplied input list
	if err != nil {
		return nil, fmt.Errorf("reading input file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading input file %s: %w", path, err)
	}
	return out, nil
}
