package config

import (
	"fmt"
	"strings"
)

// Commands accepted by ParseArgs.
const (
	CommandReplay = "replay"
	CommandSweep  = "sweep"
	CommandLive   = "live"
)

// CustomAttribute is a report attribute computed from an expression.
type CustomAttribute struct {
	Name       string
	Expression string
}

// Config holds the parsed command-line configuration
type Config struct {
	// Command is replay, sweep or live
	Command string
	// Path is the trace file for replay, the sweep configuration for sweep,
	// the pinned ring-buffer map for live
	Path string
	// TraceID is an optional expression for the OpenTelemetry trace ID
	TraceID string
	// ParentID is an optional expression for the parent span ID
	ParentID string
	// CustomAttributes are added to every kernel report
	CustomAttributes []CustomAttribute
}

// ParseArgs parses command-line arguments and returns a Config.
// Expected format: program_name [-t <expr>] [-p <expr>] [-a name=expr]... <replay|sweep|live> <path>
// envAttributes holds additional attributes in ParseAttributeString form;
// they come before the ones given on the command line.
func ParseArgs(args []string, envAttributes string) (*Config, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no arguments provided")
	}
	programName := args[0]

	attrs, err := ParseAttributeString(envAttributes)
	if err != nil {
		return nil, fmt.Errorf("parsing attributes from environment: %w", err)
	}
	cfg := &Config{CustomAttributes: attrs}

	var positional []string
	for i := 1; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "-t", "--trace-id", "-p", "--parent-id", "-a", "--attribute":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s requires a value", arg)
			}
			value := args[i+1]
			i++

			switch arg {
			case "-t", "--trace-id":
				cfg.TraceID = value
			case "-p", "--parent-id":
				cfg.ParentID = value
			default:
				attr, err := parseAttribute(value)
				if err != nil {
					return nil, err
				}
				cfg.CustomAttributes = append(cfg.CustomAttributes, attr)
			}
		default:
			positional = append(positional, arg)
		}
	}

	if len(positional) != 2 {
		return nil, fmt.Errorf("Usage: %s [-t <expr>] [-p <expr>] [-a name=expr]... <replay|sweep|live> <path>\nExample: %s replay kernel.trace",
			programName, programName)
	}
	cfg.Command, cfg.Path = positional[0], positional[1]
	switch cfg.Command {
	case CommandReplay, CommandSweep, CommandLive:
	default:
		return nil, fmt.Errorf("unknown command %q, want %s, %s or %s", cfg.Command, CommandReplay, CommandSweep, CommandLive)
	}
	return cfg, nil
}

// ParseAttributeString parses attributes separated by semicolons.
// Format: name1=expr1;name2=expr2
func ParseAttributeString(s string) ([]CustomAttribute, error) {
	var attrs []CustomAttribute
	for _, part := range strings.Split(s, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		attr, err := parseAttribute(part)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

// parseAttribute splits name=expr on the first equals sign.
func parseAttribute(s string) (CustomAttribute, error) {
	name, expression, ok := strings.Cut(s, "=")
	if !ok {
		return CustomAttribute{}, fmt.Errorf("invalid attribute %q, want name=expression", s)
	}
	name = strings.TrimSpace(name)
	expression = strings.TrimSpace(expression)
	if name == "" {
		return CustomAttribute{}, fmt.Errorf("attribute name cannot be empty in %q", s)
	}
	if expression == "" {
		return CustomAttribute{}, fmt.Errorf("attribute expression cannot be empty in %q", s)
	}
	return CustomAttribute{Name: name, Expression: expression}, nil
}
