package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"

	"github.com/weiihann/vcpubench/codetable"
	"github.com/weiihann/vcpubench/config"
	"github.com/weiihann/vcpubench/harness"
	"github.com/weiihann/vcpubench/report"
)

var errResultsDiffer = errors.New("results differ")

func newEntriesCmd(logger *slog.Logger) *cobra.Command {
	var engineName, image string

	cmd := &cobra.Command{
		Use:   "entries",
		Short: "List the entry points an engine exposes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tree := treeprint.NewWithRoot("engines")

			names := harness.KnownEngines()
			if engineName != "" {
				names = []string{engineName}
			}

			for _, name := range names {
				backend, err := harness.ResolveEngine(name, image, logger)
				if err != nil {
					if engineName != "" {
						return err
					}
					tree.AddNode(fmt.Sprintf("%s (unavailable: %v)", name, err))
					continue
				}

				branch := tree.AddBranch(name)
				for _, entry := range backend.Table.Names() {
					ep, _ := backend.Table.Lookup(entry)
					branch.AddNode(fmt.Sprintf("%s @ 0x%x", entry, uint32(ep)))
				}

				backend.Close()
			}

			fmt.Fprint(cmd.OutOrStdout(), tree.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&engineName, "engine", "", "Only list this engine")
	cmd.Flags().StringVar(&image, "image", config.Default().Image, "Code image manifest for emulating engines")

	return cmd
}

func newDisasmCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "disasm <image> <entry>",
		Short: "Disassemble an entry point of a code image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := codetable.Load(args[0])
			if err != nil {
				return err
			}

			return codetable.Disassemble(cmd.OutOrStdout(), img, args[1], limit)
		},
	}

	cmd.Flags().IntVar(&limit, "max", 64, "Maximum instructions to print")

	return cmd
}

func newCompareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <results-a.json> <results-b.json>",
		Short: "Compare two JSON result files, ignoring timings",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := readResults(args[0])
			if err != nil {
				return err
			}
			b, err := readResults(args[1])
			if err != nil {
				return err
			}

			match, err := report.Compare(cmd.OutOrStdout(), a, b)
			if err != nil {
				return err
			}
			if !match {
				return errResultsDiffer
			}

			return nil
		},
	}
}

func readResults(path string) ([]harness.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open results: %w", err)
	}
	defer f.Close()

	results, err := report.ReadJSON(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return results, nil
}
