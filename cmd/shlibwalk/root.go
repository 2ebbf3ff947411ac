package main

import (
	"fmt"
	"strconv"

	"github.com/sliverarmory/shlibwalk"
	"github.com/spf13/cobra"
)

var (
	codeOnly bool
	findAddr string
)

var rootCmd = &cobra.Command{
	Use:          "shlibwalk",
	Short:        "List the shared libraries mapped into this process and the addresses of their segments",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !shlibwalk.Supported {
			fmt.Fprintln(cmd.ErrOrStderr(), "shlibwalk: no enumerator for this platform")
			return nil
		}

		if findAddr != "" {
			return runFind(cmd, findAddr)
		}
		return runList(cmd)
	},
}

func runList(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	return shlibwalk.Walk(func(lib *shlibwalk.Library) shlibwalk.IterationControl {
		fmt.Fprintln(out, lib.Name())
		for _, seg := range lib.Segments() {
			if codeOnly && !seg.IsCode() {
				continue
			}
			fmt.Fprintf(out, "    %#016x: %s (%d bytes)\n",
				seg.ActualVirtualAddress(lib), seg.Name(), seg.Size())
		}
		return shlibwalk.Continue
	})
}

func runFind(cmd *cobra.Command, raw string) error {
	addr, err := strconv.ParseUint(raw, 0, 64)
	if err != nil {
		return fmt.Errorf("parse address %q: %w", raw, err)
	}

	loc, err := shlibwalk.Locate(uintptr(addr))
	if err != nil {
		return err
	}
	if loc == nil {
		return fmt.Errorf("%#x is not inside any mapped library segment", addr)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%#x: %s %s+%#x\n", addr, loc.Library, loc.Segment, loc.Offset)
	return nil
}

func init() {
	rootCmd.Flags().BoolVar(&codeOnly, "code-only", false, "Only print segments that map executable code")
	rootCmd.Flags().StringVar(&findAddr, "find", "", "Resolve an actual virtual address to its library and segment")
}
