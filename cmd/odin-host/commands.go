package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Capati/odin-wasm-host/internal/bundle"
)

func runCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <module.wasm | bundle-dir | bundle-name> [-- guest args]",
		Short: "run a Wasm module or bundle",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, _ := cmd.Flags().GetString("entry")
			if entry != "" && !strings.HasSuffix(args[0], ".wasm") {
				return fmt.Errorf("--entry only applies to .wasm modules, got '%s'", args[0])
			}

			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			opts := []bundle.RunOption{
				bundle.WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr()),
				bundle.WithArgs(args[1:]...),
			}

			if entry != "" {
				return s.host.RunModule(s.ctx, args[0], entry, opts...)
			}

			if err := s.host.Run(s.ctx, args[0], opts...); err != nil {
				s.logger.Error("Run failed", zap.String("target", args[0]), zap.Error(err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().String("entry", "", "exported function to call on a bare .wasm module (default _start)")

	return cmd
}

func fetchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <path>",
		Short: "load an asset through the configured source and write it to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			data, err := s.host.Fetch(s.ctx, args[0])
			if err != nil {
				return err
			}

			s.logger.Debug("Fetched asset",
				zap.String("path", args[0]),
				zap.Int("size", len(data)),
				zap.String("source", s.host.Source().Name()),
			)

			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func bundlesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bundles",
		Short: "list the bundles found under the bundle paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.host.LoadBundles(s.ctx); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVERSION\tENTRY\tDIR")
			for _, b := range s.host.Bundles().Registry().List() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.Name(), b.Version(), b.Entry(), b.Manifest.Dir())
			}
			return w.Flush()
		},
	}
}

func schemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "print the JSON schema of manifest.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := bundle.Schema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}
