package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/analytics-gateway/internal/gatewayctl"
)

func submitCmd(a *gatewayctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job to the gateway",
		Long: `Submit the job described by a JSON file. Every submission that passes validation costs
one unit of quota, whether it is admitted or not.

Example job.json:

  {
    "algorithmName": "density",
    "accessLevel": "antenna",
    "startDate": "2024-03-01T10:00:00Z",
    "endDate": "2024-03-01T12:00:00Z",
    "params": {}
  }`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := cmd.Flags().GetString("file")
			if err != nil {
				return err
			}
			return a.SubmitJobFile(file)
		},
	}
	cmd.Flags().StringP("file", "f", "", "path of the JSON job description")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func jobCmd(a *gatewayctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect and cancel jobs",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a)
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <jobID>",
			Short: "Print a job",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.GetJob(args[0])
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List all jobs (admin only)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.GetAllJobs()
			},
		},
		&cobra.Command{
			Use:   "cancel <jobID>",
			Short: "Cancel a job",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.CancelJob(args[0])
			},
		},
	)
	return cmd
}
