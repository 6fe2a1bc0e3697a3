// Command lynkr-dict-compact collapses a content-addressable audit
// dictionary down to one entry per hash, discarding the intermediate
// update-only lines a long-running server accumulates between restarts.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lynkr/lynkr/internal/audit"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	var (
		path        string
		out         string
		versionFlag bool
	)
	flag.StringVar(&path, "path", "", "dictionary JSONL file to compact (required)")
	flag.StringVar(&out, "out", "", "write the compacted dictionary here instead of compacting in place")
	flag.BoolVar(&versionFlag, "version", false, "print version and exit")
	flag.Parse()

	if versionFlag {
		fmt.Println("lynkr-dict-compact (dev build)")
		return nil
	}
	if path == "" {
		flag.Usage()
		return fmt.Errorf("-path is required")
	}

	if out != "" {
		if err := audit.Compact(path, out); err != nil {
			return fmt.Errorf("compact %s into %s: %w", path, out, err)
		}
		fmt.Printf("compacted %s -> %s\n", path, out)
		return nil
	}

	if err := audit.CompactInPlace(path); err != nil {
		return fmt.Errorf("compact %s in place: %w", path, err)
	}
	fmt.Printf("compacted %s in place\n", path)
	return nil
}
