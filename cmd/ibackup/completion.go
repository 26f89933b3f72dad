package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCompletionCommand creates the 'completion' command, which prints a
// shell completion script. Logical paths and SSIDs complete dynamically
// against the backup named by --directory.
func NewCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate completion script",
		Long: `To load completions:

Bash:

  $ source <(ibackup completion bash)

  To load completions for all new sessions, run once:
  # Linux:
  $ ibackup completion bash > /etc/bash_completion.d/ibackup
  # macOS (using Homebrew):
  $ ibackup completion bash > $(brew --prefix)/etc/bash_completion.d/ibackup

Zsh:

  $ ibackup completion zsh > "${fpath[1]}/_ibackup"

  Start a new shell for this setup to take effect.

Fish:

  $ ibackup completion fish > ~/.config/fish/completions/ibackup.fish

Powershell:

  PS> ibackup completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletionV2(out, true)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return fmt.Errorf("unsupported shell %q", args[0])
		},
	}
}
