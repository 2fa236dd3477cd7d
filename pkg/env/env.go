// Copyright 2026 EmberFS Authors
// SPDX-License-Identifier: Apache-2.0

package env

import (
	"github.com/spf13/viper"
)

const (
	Local      = "local"
	Production = "production"
	Testing    = "testing"
)

var Env string

func IsLocal() bool {
	return Env == Local
}

func IsProduction() bool {
	return Env == Production
}

func IsTesting() bool {
	return Env == Testing
}

func init() {
	Reload()
}

// Reload re-reads the environment name from viper, either the env config
// key or the EMBERFS_ENV variable. Call after configuration files are
// merged; init runs before any config file is loaded.
func Reload() {
	Env = viper.GetString("ENV")
	if Env == "" {
		Env = Local
	}
}
