package commands

import "github.com/spf13/cobra"

func (c *CLI) newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [target]",
		Short: "Bring a target and its dependencies up to date",
		Long: "Bring a target and its dependencies up to date.\n\n" +
			"Without a target, the build description's default is used, then the\n" +
			"configured default_target, then \"all\".",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := c.options(cmd)
			if err != nil {
				return err
			}
			return c.app.Build(cmd.Context(), targetArg(args), opts)
		},
	}
	cmd.Flags().BoolP(dryRunFlag, "n", false, "Print the recipes that would run without running them")
	return cmd
}
