package app

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/agentstation/banrelay/cmd/banrelay/cmd/cache"
	"github.com/agentstation/banrelay/cmd/banrelay/cmd/serve"
)

// registerCommands registers all subcommands with the root command.
func (a *App) registerCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(a.CreateServeCommand())
	rootCmd.AddCommand(a.CreateCacheCommand())
	rootCmd.AddCommand(a.CreateVersionCommand())
}

// CreateServeCommand creates the serve command with app dependencies.
func (a *App) CreateServeCommand() *cobra.Command {
	cmd := serve.NewCommand(a)
	cmd.GroupID = "core"
	return cmd
}

// CreateCacheCommand creates the cache command with app dependencies.
func (a *App) CreateCacheCommand() *cobra.Command {
	cmd := cache.NewCommand(a)
	cmd.GroupID = "management"
	return cmd
}

// CreateVersionCommand creates the version command.
func (a *App) CreateVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "banrelay version %s\n", a.version)
			fmt.Fprintf(out, "commit: %s\n", a.commit)
			fmt.Fprintf(out, "built: %s\n", a.date)
			fmt.Fprintf(out, "built by: %s\n", a.builtBy)
			fmt.Fprintf(out, "go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
