package main

import (
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/commands"
	"github.com/gingerrexayers/ibackup-go/internal/ibackup/types"
	"github.com/gingerrexayers/ibackup-go/internal/ibackup/vfs"
)

// completionFunc is the signature cobra expects for ValidArgsFunction.
type completionFunc func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective)

// backupDir returns the directory given by the --directory flag.
func backupDir(cmd *cobra.Command, a *app) string {
	if dirFlag, err := cmd.Flags().GetString("directory"); err == nil && dirFlag != "" {
		return dirFlag
	}
	return a.cfg.ArchiveDir
}

// logicalPathCompletions completes the first argument with logical paths
// from the backup, one directory level at a time.
func logicalPathCompletions(a *app) completionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) != 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		archive, err := vfs.Open(backupDir(cmd, a))
		if err != nil {
			// Don't return an error, just fail to complete.
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		parent := ""
		if i := strings.LastIndexByte(toComplete, '/'); i >= 0 {
			parent = toComplete[:i]
		}
		entries, err := archive.ReadDir(parent)
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		var suggestions []string
		for _, e := range entries {
			candidate := e.Name()
			if parent != "" {
				candidate = path.Join(types.CleanLogical(parent), candidate)
			}
			if e.IsDir() {
				candidate += "/"
			}
			if strings.HasPrefix(candidate, strings.TrimPrefix(toComplete, "/")) {
				suggestions = append(suggestions, candidate+"\t"+e.Kind.String())
			}
		}
		return suggestions, cobra.ShellCompDirectiveNoFileComp | cobra.ShellCompDirectiveNoSpace
	}
}

// ssidCompletions provides dynamic tab completion for network names. Names
// already on the command line are not suggested again.
func ssidCompletions(a *app) completionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		ssids, err := commands.NetworkSSIDs(backupDir(cmd, a), commands.Options{NetworkPaths: a.cfg.NetworkPaths})
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		used := make(map[string]bool, len(args))
		for _, arg := range args {
			used[arg] = true
		}
		var suggestions []string
		for _, ssid := range ssids {
			if !used[ssid] && strings.HasPrefix(ssid, toComplete) {
				suggestions = append(suggestions, ssid)
			}
		}
		return suggestions, cobra.ShellCompDirectiveNoFileComp
	}
}
