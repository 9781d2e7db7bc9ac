package commands

import "github.com/spf13/cobra"

func (c *CLI) newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean [target]",
		Short: "Remove the files recipes produce",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := c.options(cmd)
			if err != nil {
				return err
			}
			return c.app.Clean(cmd.Context(), targetArg(args), opts)
		},
	}
	cmd.Flags().BoolP(dryRunFlag, "n", false, "List the files that would be removed")
	return cmd
}
