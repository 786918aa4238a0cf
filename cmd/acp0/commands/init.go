package commands

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/acp0/acp0/config"
	"github.com/acp0/acp0/libs/log"
	"github.com/acp0/acp0/privval"
)

// MakeInitCommand returns the command that writes the config file and the
// agent key under the home directory, leaving existing files untouched.
func MakeInitCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize an acp0 agent home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return initFiles(conf, logger)
		},
	}
}

func initFiles(conf *config.Config, logger log.Logger) error {
	keyFile := conf.KeyFilePath()
	if _, err := os.Stat(keyFile); err == nil {
		logger.Info("Found agent key", "path", keyFile)
	} else if errors.Is(err, os.ErrNotExist) {
		key := privval.GenFileKey(keyFile, conf.Moniker)
		if err := key.Save(); err != nil {
			return err
		}
		logger.Info("Generated agent key", "path", keyFile, "agent", key.AgentID)
	} else {
		return err
	}

	configFile := config.ConfigFilePath(conf.RootDir)
	if _, err := os.Stat(configFile); err == nil {
		logger.Info("Found config file", "path", configFile)
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := config.WriteConfigFile(conf.RootDir, conf); err != nil {
		return err
	}
	logger.Info("Generated config file", "path", configFile)
	return nil
}
