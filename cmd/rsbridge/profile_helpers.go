package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rsbridge/internal/prof"
)

var profiling *prof.Session

// setupProfiling starts the profilers requested by the persistent flags.
// stopProfiling must run after the command returns.
func setupProfiling(cmd *cobra.Command) error {
	flags := cmd.Root().PersistentFlags()
	var opts prof.Options
	var err error
	if opts.CPU, err = flags.GetString("cpu-profile"); err != nil {
		return fmt.Errorf("failed to get cpu-profile flag: %w", err)
	}
	if opts.Mem, err = flags.GetString("mem-profile"); err != nil {
		return fmt.Errorf("failed to get mem-profile flag: %w", err)
	}
	if opts.Trace, err = flags.GetString("runtime-trace"); err != nil {
		return fmt.Errorf("failed to get runtime-trace flag: %w", err)
	}
	profiling, err = prof.Start(opts)
	return err
}

func stopProfiling() {
	if err := profiling.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "profiling: %v\n", err)
	}
}
