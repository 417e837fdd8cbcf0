// Package autoload initializes the global logger from environment
// configuration as a side effect of being imported.
package autoload

import (
	configx "github.com/moonsyncai/moonsync/pkg/config"
	logx "github.com/moonsyncai/moonsync/pkg/logger"
)

func init() {
	cfg := configx.MustNew[logx.Config]("LOG")
	logx.Init(*cfg)
}
