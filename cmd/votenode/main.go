// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command votenode is the interactive voting peer. Without a subcommand it
// shows the start/join/list menu.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ManuGH/distvote/internal/console"
	"github.com/ManuGH/distvote/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, console.ErrInputClosed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type globalOptions struct {
	configPath string
	noColor    bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	var g globalOptions
	root := &cobra.Command{
		Use:           "votenode",
		Short:         "Peer-to-peer voting node",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			con, err := setup(g, console.Options{})
			if err != nil {
				return err
			}
			return con.Run(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "path to config file (YAML)")
	root.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "disable coloured output")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "show heartbeat notices and debug logs")

	root.AddCommand(
		newStartCmd(&g),
		newJoinCmd(&g),
		newSessionsCmd(&g),
		newVersionCmd(),
	)
	return root
}

func newStartCmd(g *globalOptions) *cobra.Command {
	var (
		port    int
		options []string
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new election and lead it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			con, err := setup(*g, console.Options{Port: port, VoteOptions: options})
			if err != nil {
				return err
			}
			return con.StartElection(cmd.Context())
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "peer port to listen on (prompted when unset)")
	cmd.Flags().StringSliceVarP(&options, "options", "o", nil, "comma-separated voting options (prompted when unset)")
	return cmd
}

func newJoinCmd(g *globalOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "join [CODE]",
		Short: "Join an existing election",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			con, err := setup(*g, console.Options{Port: port})
			if err != nil {
				return err
			}
			code := ""
			if len(args) == 1 {
				code = args[0]
			}
			return con.JoinElection(cmd.Context(), code)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "peer port to listen on (prompted when unset)")
	return cmd
}

func newSessionsCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List sessions known to the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			con, err := setup(*g, console.Options{})
			if err != nil {
				return err
			}
			return con.ShowSessions(cmd.Context())
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
