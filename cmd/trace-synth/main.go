// trace-synth writes synthetic kernel traces for scope-advice.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/caarlos0/env/v11"

	"github.com/mrzor/scope-advice/internal/synth"
	"github.com/mrzor/scope-advice/internal/tracefile"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() (err error) {
	if len(os.Args) != 2 {
		return fmt.Errorf("Usage: %s <out.trace>\nShape the kernel with SYNTH_* environment variables", os.Args[0])
	}

	var p synth.Params
	if err := env.Parse(&p); err != nil {
		return fmt.Errorf("failed to parse parameters: %w", err)
	}

	f, err := os.Create(os.Args[1])
	if err != nil {
		return fmt.Errorf("creating trace: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w, err := tracefile.NewWriter(f)
	if err != nil {
		return err
	}
	if err := synth.Generate(w, p); err != nil {
		return fmt.Errorf("generating kernel %s: %w", p.Kernel, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("flushing trace: %w", err)
	}
	log.Printf("wrote kernel %s with %d fences to %s", p.Kernel, p.Fences, os.Args[1])
	return nil
}
