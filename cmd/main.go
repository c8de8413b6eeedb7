/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/loqalabs/loqa-display-go/internal/config"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "loqa-display",
		Short:         "Play images from a Loqa hub on an LED matrix",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader := config.NewLoader(afero.NewOsFs())
			loader.SetConfigFile(configFile)
			if err := loader.BindFlags(cmd.Flags()); err != nil {
				return err
			}
			cfg, err := loader.Load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, defaultOptions(cmd.OutOrStdout()))
		},
	}
	root.SetContext(context.Background())

	root.Flags().StringVar(&configFile, "config", "", "config file (default: search /etc/loqa-display, ~/.config/loqa-display, .)")
	config.RegisterFlags(root.Flags())

	root.AddCommand(newConfigCmd())
	return root
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "List configuration keys, their defaults and environment variables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printFields(cmd.OutOrStdout())
		},
	}
}

func printFields(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tDEFAULT\tFLAG\tENV")
	for _, f := range config.Fields {
		flag := "-"
		if f.Flag != "" {
			flag = "--" + f.Flag
		}
		fmt.Fprintf(w, "%s\t%v\t%s\t%s\n", f.Key, f.Value, flag, f.Env())
	}
	return w.Flush()
}
