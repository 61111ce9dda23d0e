package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/gophertribe/devtool/build"
)

const (
	binary        = "dist/sonar"
	mainPackage   = "./cmd/sonar"
	configPackage = "github.com/mklimuk/sonar/config"
	builderImage  = "gophertribe/gobuild:1.25-bookworm"
)

func BuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the sonar cli",
		Long: `Build the sonar cli. Native builds run go build directly; other
targets are built inside the builder image since the MCP2221 support links
against hidapi through cgo.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			targetOS, _ := flags.GetString("os")
			targetArch, _ := flags.GetString("arch")
			version, _ := flags.GetString("version")
			crossOS, _ := flags.GetString("cross-os")
			crossArch, _ := flags.GetString("cross-arch")
			cgo, err := flags.GetBool("cgo")
			if err != nil {
				return fmt.Errorf("could not get cgo flag: %w", err)
			}

			if targetOS == runtime.GOOS && targetArch == runtime.GOARCH {
				if crossOS != "" && crossArch != "" {
					targetOS = crossOS
					targetArch = crossArch
				}
				return build.GoBuild(binary, mainPackage, build.GoBuildOpts{
					Version:       version,
					InjectVersion: true,
					ConfigPackage: configPackage,
					EnableCgo:     cgo,
					Arch:          targetArch,
					OS:            targetOS,
				})
			}

			noCache, err := flags.GetBool("no-cache")
			if err != nil {
				return fmt.Errorf("could not get no-cache flag: %w", err)
			}
			return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", targetOS, targetArch), []string{"build", "--version", version, "--cross-os", crossOS, "--cross-arch", crossArch}, build.DockerBuildOpts{
				NoCache: noCache,
				Image:   builderImage,
			})
		},
	}
	cmd.Flags().Bool("no-cache", false, "do not use cache when building in the container")
	cmd.Flags().Bool("cgo", true, "link hidapi; disable for hosts using only kernel i2c buses")
	cmd.Flags().String("version", "latest", "version of the cli")
	cmd.Flags().String("os", runtime.GOOS, "os to build for")
	cmd.Flags().String("arch", runtime.GOARCH, "arch to build for")
	cmd.Flags().String("cross-os", "", "os to cross-compile for, e.g. linux")
	cmd.Flags().String("cross-arch", "", "arch to cross-compile for, e.g. arm64")

	return cmd
}
