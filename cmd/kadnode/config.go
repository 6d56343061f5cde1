package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dep2p/go-kad/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "输出默认配置（JSON）",
	RunE: func(cmd *cobra.Command, _ []string) error {
		data, err := config.NewConfig().ToJSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}
