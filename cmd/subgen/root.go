package main

import (
	"github.com/spf13/cobra"

	"github.com/John-Robertt/subgen-go/internal/config"
	"github.com/John-Robertt/subgen-go/internal/log"
)

type rootFlags struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	rf := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "subgen",
		Short:         "订阅转换：把多协议订阅合并成一份 Clash Meta 配置",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&rf.configFile, "config", "f", "", "配置文件路径（YAML）")
	cmd.PersistentFlags().StringVar(&rf.logLevel, "log-level", "", "覆盖 log.level（debug/info/warning/error/silent）")

	cmd.AddCommand(
		newServeCmd(rf),
		newGenerateCmd(rf),
		newParseCmd(rf),
		newHealthcheckCmd(rf),
	)
	return cmd
}

// load reads the config file and applies the logging section. Flags that
// override other sections are applied by each command.
func (rf *rootFlags) load() (config.Config, error) {
	cfg, err := config.Load(rf.configFile)
	if err != nil {
		return config.Config{}, err
	}
	if rf.logLevel != "" {
		cfg.Log.Level = rf.logLevel
	}
	if err := log.SetLevel(cfg.Log.Level); err != nil {
		return config.Config{}, err
	}
	if err := log.SetFormat(cfg.Log.Format); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
