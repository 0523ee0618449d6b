package cmd

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/G-Research/analytics-gateway/internal/gatewayctl"
)

func quotaCmd(a *gatewayctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Show and manage quota",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a)
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the quota of the current user",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.ShowQuota()
			},
		},
		&cobra.Command{
			Use:   "set-allotment <quota>",
			Short: "Set the allotment of every user and refill them (admin only)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				allotment, err := strconv.Atoi(args[0])
				if err != nil {
					return errors.Errorf("quota must be an integer, got %q", args[0])
				}
				return a.SetAllotment(allotment)
			},
		},
		&cobra.Command{
			Use:   "reset <username>",
			Short: "Refill the quota of a user (admin only)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.ResetQuota(args[0])
			},
		},
	)
	return cmd
}
