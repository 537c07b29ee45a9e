package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/coriolis-mq/coriolis/pkg/peerrpc"
	"github.com/spf13/cobra"
)

var flagCmd = &cobra.Command{
	Use:   "flag",
	Short: "Query or enable feature flags on a running Coriolis node",
}

var flagListCmd = &cobra.Command{
	Use:   "list",
	Short: "List feature flags known to a node",
	RunE:  runFlagList,
}

var flagEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a feature flag, propagating it to every running peer",
	Args:  cobra.ExactArgs(1),
	RunE:  runFlagEnable,
}

var flagStatusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Show whether a flag is supported and/or enabled on a node",
	Args:  cobra.ExactArgs(1),
	RunE:  runFlagStatus,
}

func init() {
	flagCmd.PersistentFlags().String("addr", "127.0.0.1:7400", "PeerRPC address of the node to query")
	flagCmd.PersistentFlags().Duration("timeout", defaultPeerTimeout, "RPC timeout")

	flagListCmd.Flags().Bool("all", false, "list all declared flags (default)")
	flagListCmd.Flags().Bool("enabled", false, "list only enabled flags")
	flagListCmd.Flags().Bool("disabled", false, "list only disabled flags")

	flagCmd.AddCommand(flagListCmd, flagEnableCmd, flagStatusCmd)
}

func runFlagList(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	enabled, _ := cmd.Flags().GetBool("enabled")
	disabled, _ := cmd.Flags().GetBool("disabled")

	filter := "all"
	switch {
	case enabled:
		filter = "enabled"
	case disabled:
		filter = "disabled"
	}

	client := peerrpc.NewClient()
	defer client.Close()

	result, err := client.List(context.Background(), addr, filter, timeout)
	if err != nil {
		return fmt.Errorf("list flags: %w", err)
	}

	names := make([]string, 0, len(result))
	for name := range result {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runFlagEnable(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	client := peerrpc.NewClient()
	defer client.Close()

	if err := client.Enable(context.Background(), addr, args[0], timeout); err != nil {
		return fmt.Errorf("enable %q: %w", args[0], err)
	}
	fmt.Printf("enabled %q\n", args[0])
	return nil
}

func runFlagStatus(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	client := peerrpc.NewClient()
	defer client.Close()

	status, err := client.Status(context.Background(), addr, args[0], timeout)
	if err != nil {
		return fmt.Errorf("status %q: %w", args[0], err)
	}
	fmt.Printf("%s: supported=%t enabled=%t\n", args[0], status.Supported, status.Enabled)
	return nil
}
