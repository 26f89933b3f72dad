package main

import (
	"github.com/spf13/cobra"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/commands"
)

// NewOrphansCommand creates the 'orphans' command for the CLI.
func NewOrphansCommand(a *app) *cobra.Command {
	var deleteOrphans bool

	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "Report pool files that no manifest entry references.",
		Long: `Lists the files in the backup's pool that the manifest no longer
refers to, such as the old content of an edited file. With --delete the
listed files are removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.Orphans(a.dir, commands.OrphanOptions{
				Options: a.options(),
				Delete:  deleteOrphans,
			})
		},
	}

	cmd.Flags().BoolVar(&deleteOrphans, "delete", false, "Delete the orphaned files instead of only listing them")

	return cmd
}
