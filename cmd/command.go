// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"

	"github.com/FirelightWorks/emberfs/pkg/utils"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "emberfs",
	Short: "EmberFS - An encrypted storage engine",
	Long: `EmberFS is a storage engine with transparent encryption at rest.
Data files are encrypted with per-keyspace data keys, which are in turn
protected by master keys held in local key files or a cloud KMS.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
