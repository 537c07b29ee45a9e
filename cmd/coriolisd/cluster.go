package main

import "github.com/spf13/cobra"

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Bootstrap or join a Coriolis cluster",
}

var clusterBootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Start this node as the first member of a new cluster (alias for 'serve' with no --join)",
	RunE:  runServe,
}

var clusterJoinCmd = &cobra.Command{
	Use:   "join <leader-addr>",
	Short: "Start this node and join an existing cluster through <leader-addr> (alias for 'serve --join')",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cmd.Flags().Set("join", args[0]); err != nil {
			return err
		}
		return runServe(cmd, nil)
	},
}

func init() {
	for _, c := range []*cobra.Command{clusterBootstrapCmd, clusterJoinCmd} {
		c.Flags().AddFlagSet(serveCmd.Flags())
	}
	clusterCmd.AddCommand(clusterBootstrapCmd, clusterJoinCmd)
}
