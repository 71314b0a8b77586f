/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/allbin/go-kpz/internal/profile"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kpz",
	Short: "Drive Thorlabs KPZ101 piezo controller cubes",
	Long: `kpz talks to Thorlabs KPZ101 K-Cube piezo drivers over their USB
virtual serial port.

Cubes are addressed by endpoint: a serial device such as /dev/ttyUSB0, a
stable /dev/serial/by-id link, or sim:<name> for an in-process simulated
cube. Several cubes may be given to commands that accept more than one.

Examples:
  kpz ports --filter usb
  kpz status /dev/ttyUSB0 /dev/ttyUSB1
  kpz output /dev/ttyUSB0 on
  kpz voltage /dev/ttyUSB0 12.5
  kpz watch sim:a sim:b

Settings can also come from $HOME/.kpz.yaml or KPZ_* environment
variables, e.g. KPZ_TIMEOUT=1s.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.kpz.yaml)")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().String("profile", profile.DefaultName, "Device family profile")
	rootCmd.PersistentFlags().String("profile-file", "", "Load the protocol table from a YAML file")
	rootCmd.PersistentFlags().Duration("timeout", 500*time.Millisecond, "Reply timeout per command attempt")
	rootCmd.PersistentFlags().Int("retries", 1, "Re-sends of a command that timed out")
	rootCmd.PersistentFlags().Uint8("node", 0, "Cube node address (0 uses the profile default)")
	rootCmd.PersistentFlags().Int("baud", 115200, "Serial baud rate")
	rootCmd.PersistentFlags().String("trace", "", "Append every frame to a CBOR trace file")

	_ = viper.BindPFlags(rootCmd.PersistentFlags())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".kpz")
	}

	viper.SetEnvPrefix("KPZ")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		os.Exit(1)
	}
}
