package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "GATEWAYCTL"

func AddGatewayConnectionCommandlineArgs(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().String("url", "http://localhost:8080", "specify gateway url")
	rootCmd.PersistentFlags().String("token", "", "token of the user the commands are run as")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "timeout of a single request")
	rootCmd.PersistentFlags().Int("retryMax", 3, "number of retries of failed requests")
	for _, name := range []string{"url", "token", "timeout", "retryMax"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

// LoadCommandlineArgsFromConfigFile merges cfgFile, or $HOME/.gatewayctl.yaml when it is empty,
// under the flags. A missing default file is not an error.
func LoadCommandlineArgsFromConfigFile(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return fmt.Errorf("[LoadCommandlineArgsFromConfigFile] error getting user home directory: %s", err)
		}
		viper.SetConfigFile(filepath.Join(home, ".gatewayctl.yaml"))
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.MergeInConfig(); err != nil {
		switch err.(type) {
		case viper.ConfigFileNotFoundError, *os.PathError:
			if cfgFile != "" {
				return fmt.Errorf("[LoadCommandlineArgsFromConfigFile] error reading config file %s: %s", cfgFile, err)
			}
		default:
			return fmt.Errorf("[LoadCommandlineArgsFromConfigFile] error reading config file %s: %s", viper.ConfigFileUsed(), err)
		}
	}
	return nil
}

func ExtractCommandlineGatewayConnectionDetails() *ApiConnectionDetails {
	return &ApiConnectionDetails{
		GatewayUrl: viper.GetString("url"),
		Token:      viper.GetString("token"),
		Timeout:    viper.GetDuration("timeout"),
		RetryMax:   viper.GetInt("retryMax"),
	}
}
