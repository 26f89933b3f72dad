package main

import (
	"github.com/spf13/cobra"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/commands"
)

// NewExtractCommand creates the 'extract' command for the CLI.
func NewExtractCommand(a *app) *cobra.Command {
	var outputDir string
	var exclude []string
	var excludeFrom string
	var workers int

	cmd := &cobra.Command{
		Use:   "extract [logical-path]",
		Short: "Copy files out of a backup into a plain directory tree.",
		Long: `Extracts the backup's logical tree, or the subtree below logical-path,
into the output directory. Each domain becomes a top-level directory.
Paths matching an exclude pattern (gitignore syntax, matched against
logical paths) are skipped. Without --exclude-from, patterns are read
from .ibackupignore in the output directory if it exists.`,
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: logicalPathCompletions(a),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := commands.ExtractOptions{
				Options:     a.options(),
				Exclude:     exclude,
				ExcludeFrom: excludeFrom,
				Workers:     workers,
			}
			if len(args) > 0 {
				opts.Prefix = args[0]
			}
			return commands.Extract(cmd.Context(), a.dir, outputDir, opts)
		},
	}

	// Define flags for the command.
	cmd.Flags().StringVarP(&outputDir, "output", "o", "extracted", "The directory to extract files to")
	cmd.Flags().StringArrayVarP(&exclude, "exclude", "x", nil, "A gitignore-style pattern to skip (repeatable)")
	cmd.Flags().StringVar(&excludeFrom, "exclude-from", "", "A file of exclude patterns (defaults to <output>/.ibackupignore)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Number of parallel file writers (0 means one per CPU)")

	return cmd
}
