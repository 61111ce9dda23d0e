package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

func ChangelogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changelog",
		Short: "Generate CHANGELOG.md from conventional commits",
		Long: `Generate CHANGELOG.md with git-chglog from the git history.

Commits are expected in the conventional format, e.g.
  feat(srf): read all SRF08 echoes
  fix(adapter): release the MCP2221 bus after a NACK

Examples:
  dev changelog
  dev changelog --next v0.3.0
  dev changelog --tag v0.2.0 --output CHANGES.md`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			output, _ := flags.GetString("output")
			next, _ := flags.GetString("next")
			tag, _ := flags.GetString("tag")

			if _, err := exec.LookPath("git-chglog"); err != nil {
				slog.Error("git-chglog not found in PATH, install it with: go install github.com/git-chglog/git-chglog/cmd/git-chglog@latest")
				return fmt.Errorf("git-chglog not installed: %w", err)
			}

			chglogArgs := changelogArgs(output, next, tag)
			slog.Info("running git-chglog", "args", chglogArgs)
			gitChglog := exec.Command("git-chglog", chglogArgs...)
			gitChglog.Stdout = os.Stdout
			gitChglog.Stderr = os.Stderr
			if err := gitChglog.Run(); err != nil {
				return fmt.Errorf("failed to generate changelog: %w", err)
			}
			slog.Info("changelog generated", "file", output)
			return nil
		},
	}

	cmd.Flags().String("next", "", "next version tag, e.g. v0.3.0")
	cmd.Flags().String("output", "CHANGELOG.md", "output file path")
	cmd.Flags().String("tag", "", "generate the changelog of a single tag")

	return cmd
}

func changelogArgs(output, next, tag string) []string {
	if output == "" {
		output = "CHANGELOG.md"
	}
	var args []string
	if next != "" {
		args = append(args, "--next-tag", next)
	}
	args = append(args, "--output", output)
	if tag != "" {
		args = append(args, tag)
	}
	return args
}
