package main

import (
	"log"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "skald",
	Short: "Permissioned multi-channel chat on top of a p2p routed-message substrate",
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default skald.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(joinCmd)
}

func initConfig() {
	viper.SetDefault("listen", "/ip4/0.0.0.0/tcp/4040")
	viper.SetDefault("db", "skald.db")
	viper.SetDefault("world", "default")
	viper.SetDefault("command-prefix", "/")
	viper.SetDefault("create-policy", "anyone")
	viper.SetDefault("global-channel", "Global")
	viper.SetDefault("save-interval", "2m")
	viper.SetDefault("admins", []string{})
	viper.SetDefault("name", "guest")

	viper.SetEnvPrefix("skald")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("skald")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	if err := viper.ReadInConfig(); err == nil {
		log.Printf("[CMD] Using config file %s", viper.ConfigFileUsed())
	}
}
