package main

import (
	"github.com/spf13/cobra"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/commands"
)

// NewListCommand creates the 'ls' command for the CLI.
func NewListCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "ls [logical-path]",
		Aliases:           []string{"list"},
		Short:             "List the entries below a logical path.",
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: logicalPathCompletions(a),
		RunE: func(cmd *cobra.Command, args []string) error {
			logicalPath := ""
			if len(args) > 0 {
				logicalPath = args[0]
			}
			return commands.List(a.dir, logicalPath, a.options())
		},
	}
	return cmd
}
