package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"rsbridge/internal/diag"
	"rsbridge/internal/errs"
	"rsbridge/internal/hotreload"
)

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Rebuild a project whenever its sources change",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) == 1 {
		path = args[0]
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	colored, err := useColor(cmd, os.Stderr)
	if err != nil {
		return err
	}

	c, closeFn, err := openContext(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.ErrOrStderr()
	p, err := c.EnableHotReload(ctx, abs, func(ev hotreload.Event) {
		if ev.Success {
			fmt.Fprintf(out, "%s %s (%d changed)\n", color.GreenString("reloaded"), ev.Path, len(ev.Changed))
			return
		}
		fmt.Fprintf(out, "%s %s\n", color.RedString("build failed"), ev.Path)
		var be *errs.BuildError
		if errors.As(ev.Err, &be) {
			_ = diag.Render(out, be, diag.RenderOptions{Color: colored, Context: 2})
		} else if ev.Err != nil {
			fmt.Fprintf(out, "  %v\n", ev.Err)
		}
	})
	if err != nil {
		return err
	}
	if !quiet(cmd) {
		state, _ := p.Status()
		fmt.Fprintf(out, "watching %s (%d files, %s)\n", p.Path(), len(p.Files()), state)
	}
	<-ctx.Done()
	return c.DisableHotReload(abs)
}
