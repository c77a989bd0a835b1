// Package cmd implements the lumen command line interface.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumenml/lumen/envconfig"
)

func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI builds the root command with all subcommands attached.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "lumen",
		Short:         "Text to image generation",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	serveCmd := newServeCmd()
	generateCmd := newGenerateCmd()
	createCmd := newCreateCmd()
	listCmd := newListCmd()

	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{envVars["LUMEN_HOST"]}

	for _, cmd := range []*cobra.Command{generateCmd, createCmd, listCmd, serveCmd} {
		switch cmd {
		case serveCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["LUMEN_DEBUG"],
				envVars["LUMEN_HOST"],
				envVars["LUMEN_MODELS"],
				envVars["LUMEN_ORIGINS"],
				envVars["LUMEN_PRECISION"],
				envVars["LUMEN_SEED"],
				envVars["LUMEN_THREADS"],
			})
		default:
			appendEnvDocs(cmd, envs)
		}
	}

	rootCmd.AddCommand(
		serveCmd,
		generateCmd,
		createCmd,
		listCmd,
	)

	return rootCmd
}
