package main

import (
	"github.com/spf13/cobra"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/commands"
)

// NewNetworksCommand creates the 'networks' command group for the CLI.
func NewNetworksCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "networks",
		Short: "Show or edit the wireless networks the device remembers.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.Networks(a.dir, a.options())
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the known networks.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.Networks(a.dir, a.options())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:               "remove <ssid>...",
		Aliases:           []string{"rm"},
		Short:             "Forget the named networks and save the backup.",
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: ssidCompletions(a),
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.RemoveNetworks(cmd.Context(), a.dir, args, a.options())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget every known network and save the backup.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.ClearNetworks(cmd.Context(), a.dir, a.options())
		},
	})

	return cmd
}
