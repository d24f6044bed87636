package main

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/modelocal/internal/mode/binding"
	"github.com/dshills/modelocal/internal/mode/registry"
	"github.com/dshills/modelocal/internal/watcher"
)

func newChainCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chain <mode>",
		Short: "Print a mode's ancestor chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			chain, err := e.rt.Chain(registry.ID(args[0]))
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), chain)
			}

			names := make([]string, len(chain))
			for i, id := range chain {
				names[i] = string(id)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(names, " -> "))
			return nil
		},
	}
}

func newResolveCmd(opts *options) *cobra.Command {
	var modeName, want string

	cmd := &cobra.Command{
		Use:   "resolve <name>",
		Short: "Print the value a document in a mode sees",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			flags, err := binding.ParseFlags(want)
			if err != nil {
				return err
			}

			doc, err := e.rt.NewDocument("*resolve*", registry.ID(modeName))
			if err != nil {
				return err
			}

			v, ok, err := e.rt.LookupValue(args[0], doc, flags)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s is unbound in %s", args[0], modeName)
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), displayValue(v))
			}
			fmt.Fprintln(cmd.OutOrStdout(), displayValue(v))
			return nil
		},
	}
	cmd.Flags().StringVarP(&modeName, "mode", "m", "", "mode the document is in")
	cmd.Flags().StringVar(&want, "want", "", "required flags, e.g. mode-variable or override")
	_ = cmd.MarkFlagRequired("mode")
	return cmd
}

func newCallCmd(opts *options) *cobra.Command {
	var modeName string

	cmd := &cobra.Command{
		Use:   "call <operation> [args...]",
		Short: "Dispatch an operation for a document in a mode",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			doc, err := e.rt.NewDocument("*call*", registry.ID(modeName))
			if err != nil {
				return err
			}

			callArgs := make([]any, len(args)-1)
			for i, a := range args[1:] {
				callArgs[i] = a
			}
			result, err := e.rt.Call(cmd.Context(), args[0], doc, callArgs...)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), displayValue(result))
			}
			fmt.Fprintln(cmd.OutOrStdout(), displayValue(result))
			return nil
		},
	}
	cmd.Flags().StringVarP(&modeName, "mode", "m", "", "mode the document is in")
	_ = cmd.MarkFlagRequired("mode")
	return cmd
}

// visibleJSON is the JSON form of one describe row.
type visibleJSON struct {
	Name     string `json:"name"`
	Source   string `json:"source"`
	Flags    string `json:"flags"`
	Value    any    `json:"value"`
	Shadowed bool   `json:"shadowed,omitempty"`
}

func newDescribeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <mode>",
		Short: "List every binding visible from a mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			visible, err := e.rt.Describe(registry.ID(args[0]))
			if err != nil {
				return err
			}

			if opts.json {
				rows := make([]visibleJSON, len(visible))
				for i, v := range visible {
					rows[i] = visibleJSON{
						Name:     v.Name,
						Source:   v.Source.Name,
						Flags:    v.Flags.String(),
						Value:    displayValue(v.Value),
						Shadowed: v.Shadowed,
					}
				}
				return writeJSON(cmd.OutOrStdout(), rows)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tMODE\tFLAGS\tVALUE")
			for _, v := range visible {
				name := v.Name
				if v.Shadowed {
					name += " (shadowed)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", name, v.Source.Name, v.Flags, displayValue(v.Value))
			}
			return tw.Flush()
		},
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Reload definition files whenever they change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			e.log.Info("loaded %d file(s), %d mode(s)", len(e.files), len(e.rt.Registry().Modes()))

			w, err := watcher.New(e.files, func([]string) error {
				if err := e.load(); err != nil {
					return err
				}
				e.log.Info("%d mode(s) after reload", len(e.rt.Registry().Modes()))
				return nil
			}, watcher.WithLogger(e.log))
			if err != nil {
				return err
			}
			defer w.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "watching %s\n", strings.Join(w.Files(), ", "))
			if err := w.Run(cmd.Context()); err != nil && cmd.Context().Err() == nil {
				return err
			}
			return nil
		},
	}
}

// displayValue replaces function values, which have no printable form.
func displayValue(v any) any {
	if v != nil && reflect.ValueOf(v).Kind() == reflect.Func {
		return "<function>"
	}
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
