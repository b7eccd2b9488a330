package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"rsbridge/internal/cache"
	"rsbridge/internal/diag"
	"rsbridge/internal/errs"
	"rsbridge/internal/project"
)

var (
	buildRaw     bool
	buildContext int
)

func init() {
	buildCmd.Flags().BoolVar(&buildRaw, "raw", false, "append the complete toolchain output to diagnostics")
	buildCmd.Flags().IntVar(&buildContext, "context", 2, "source lines of context around each diagnostic")
}

var buildCmd = &cobra.Command{
	Use:   "build [path]",
	Short: "Compile a Rust file or directory into the artifact cache",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBuild,
}

func runBuild(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) == 1 {
		path = args[0]
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	name, text, err := readProject(abs)
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

	entry, err := c.GetOrBuild(cmd.Context(), name, text)
	if err != nil {
		var be *errs.BuildError
		if errors.As(err, &be) {
			if rerr := diag.Render(cmd.ErrOrStderr(), be, diag.RenderOptions{
				Color:   colored,
				Context: buildContext,
				Raw:     buildRaw,
			}); rerr != nil {
				return rerr
			}
			return fmt.Errorf("build of %s failed", name)
		}
		return err
	}
	printEntry(cmd.OutOrStdout(), entry)
	return nil
}

// readProject concatenates the sources under abs; a single file is a
// project of its own.
func readProject(abs string) (name, text string, err error) {
	files, err := project.ListSources(abs)
	if err != nil {
		return "", "", err
	}
	if len(files) == 0 {
		return "", "", fmt.Errorf("no %s files under %s", project.SourceExt, abs)
	}
	text, err = project.ReadSources(abs, files)
	if err != nil {
		return "", "", err
	}
	name = strings.TrimSuffix(filepath.Base(abs), project.SourceExt)
	return name, text, nil
}

func printEntry(w io.Writer, e *cache.Entry) {
	fmt.Fprintf(w, "%s %s\n", e.Key.Short(), e.ArtifactPath)
	for _, sig := range e.Exported {
		ret := sig.Return
		if ret == "" {
			ret = "()"
		}
		fmt.Fprintf(w, "  fn %s(%s) -> %s\n", sig.Name, strings.Join(sig.ParamTypes(), ", "), ret)
	}
}
