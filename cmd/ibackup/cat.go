package main

import (
	"github.com/spf13/cobra"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/commands"
)

// NewCatCommand creates the 'cat' command for the CLI.
func NewCatCommand(a *app) *cobra.Command {
	var asPlist bool

	cmd := &cobra.Command{
		Use:               "cat <logical-path>",
		Short:             "Write the content of a backed up file to stdout.",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: logicalPathCompletions(a),
		RunE: func(cmd *cobra.Command, args []string) error {
			if asPlist {
				return commands.CatPlist(a.dir, args[0], cmd.OutOrStdout(), a.options())
			}
			return commands.Cat(a.dir, args[0], cmd.OutOrStdout(), a.options())
		},
	}

	cmd.Flags().BoolVarP(&asPlist, "plist", "p", false, "Decode a binary property list and print it as JSON")

	return cmd
}
