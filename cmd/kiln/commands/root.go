// Package commands implements the CLI commands for the kiln build tool.
package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.trai.ch/kiln/internal/adapters/config"
	"go.trai.ch/kiln/internal/app"
	"go.trai.ch/kiln/internal/build"
	"go.trai.ch/kiln/internal/core/domain"
)

// CLI represents the command line interface for kiln.
type CLI struct {
	app     Application
	rootCmd *cobra.Command
}

// Application represents the application logic interface.
type Application interface {
	Configure(flags *pflag.FlagSet) (domain.Settings, error)
	Build(ctx context.Context, target string, opts app.RunOptions) error
	Clean(ctx context.Context, target string, opts app.RunOptions) error
	Check(ctx context.Context, opts app.RunOptions) error
	Plan(ctx context.Context, target string, opts app.RunOptions) error
	Watch(ctx context.Context, target string, opts app.RunOptions) error
}

const dryRunFlag = "dry-run"

// New creates a new CLI instance with the given app.
func New(a Application) *CLI {
	rootCmd := &cobra.Command{
		Use:           "kiln",
		Short:         "An incremental build engine driven by file timestamps",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       build.Version,
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"{{.Name}} version {{.Version}} (commit: %s, date: %s)\n",
		build.Commit,
		build.Date,
	))
	rootCmd.InitDefaultVersionFlag()
	rootCmd.Flags().Lookup("version").Usage = "Print the application version"

	rootCmd.InitDefaultHelpFlag()
	rootCmd.Flags().Lookup("help").Usage = "Show help for command"

	flags := rootCmd.PersistentFlags()
	flags.StringP(config.KeyFile, "f", "", "Path to the build description (default: nearest "+domain.BuildFileName+")")
	flags.IntP(config.KeyJobs, "j", 0, "Number of recipes to run in parallel (default: number of CPUs)")
	flags.BoolP(config.KeyQuiet, "q", false, "Do not echo commands or forward their output")
	flags.String("cache-file", "", "Path to the metadata store (default: "+domain.StateDirName+"/"+domain.MetadataFileName+")")
	flags.Bool(config.NoVerifyCacheFlag, false, "Trust the persisted metadata instead of re-reading it")
	flags.Bool("abort-on-interrupt", false, "Terminate running recipes on interrupt instead of letting them finish")
	flags.Bool("log-json", false, "Write logs as JSON")

	c := &CLI{
		app:     a,
		rootCmd: rootCmd,
	}

	rootCmd.AddCommand(c.newBuildCmd())
	rootCmd.AddCommand(c.newCleanCmd())
	rootCmd.AddCommand(c.newCheckCmd())
	rootCmd.AddCommand(c.newGraphCmd())
	rootCmd.AddCommand(c.newWatchCmd())
	rootCmd.AddCommand(c.newVersionCmd())

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput sets the output and error streams for the root command. Used for testing.
func (c *CLI) SetOutput(out, err io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(err)
}

// options resolves settings for cmd. Only commands that define --dry-run honour it.
func (c *CLI) options(cmd *cobra.Command) (app.RunOptions, error) {
	s, err := c.app.Configure(cmd.Flags())
	if err != nil {
		return app.RunOptions{}, err
	}
	opts := app.RunOptions{Settings: s}
	if cmd.Flags().Lookup(dryRunFlag) != nil {
		opts.DryRun, _ = cmd.Flags().GetBool(dryRunFlag)
	}
	return opts, nil
}

func targetArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
