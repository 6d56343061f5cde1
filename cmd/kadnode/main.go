// Package main 提供 kadnode 命令行入口
//
//	kadnode run --listen 0.0.0.0:4000 --seed 10.0.0.1:4000 --metrics :9100
//	kadnode run --config kad.toml
//	kadnode config > kad.json
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "kadnode",
	Short:         "Kademlia DHT 节点",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.Version = version
	rootCmd.AddCommand(runCmd, configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
