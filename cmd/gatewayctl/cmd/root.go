package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/analytics-gateway/internal/gatewayctl"
	"github.com/G-Research/analytics-gateway/pkg/client"
)

// RootCmd is the root Cobra command that gets called from the main func.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "gatewayctl",
		Short:        "gatewayctl submits and manages analytics jobs through the gateway.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("config", "", "config file (default is $HOME/.gatewayctl.yaml)")
	client.AddGatewayConnectionCommandlineArgs(cmd)

	cmd.AddCommand(
		submitCmd(gatewayctl.New()),
		jobCmd(gatewayctl.New()),
		quotaCmd(gatewayctl.New()),
	)
	return cmd
}

// initParams loads the config file and connects the app to the gateway.
func initParams(cmd *cobra.Command, app *gatewayctl.App) error {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	if err := client.LoadCommandlineArgsFromConfigFile(configFile); err != nil {
		return err
	}
	app.Connect(client.ExtractCommandlineGatewayConnectionDetails())
	return nil
}
