package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var flags peerFlags

	rootCmd := &cobra.Command{
		Use:   "peer",
		Short: "Join or host a shared patch room",
		Long: `peer runs one participant of a patch room.

The host owns the room code and relays every edit; guests connect to the
host over WebRTC data channels found through the rendezvous server.

Examples:
  peer host --name Ana
  peer join AB23 --name Ben
  peer join patchroom-AB23 --mode full`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.bind(rootCmd)

	rootCmd.AddCommand(
		hostCmd(&flags),
		joinCmd(&flags),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		cancel()
		os.Exit(1)
	}
}

func hostCmd(flags *peerFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "host",
		Short: "Create a room and wait for guests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, "")
		},
	}
}

func joinCmd(flags *peerFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "join CODE",
		Short: "Join a room by its code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, args[0])
		},
	}
}
