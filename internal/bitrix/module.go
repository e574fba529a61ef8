// Package bitrix provides the Fx module for the telephony source client.
package bitrix

import (
	"go.uber.org/fx"

	"github.com/mastermobile/callexport/internal/config"
)

// NewClientFromConfig constructs the source client from the application configuration.
func NewClientFromConfig(cfg *config.Config) *Client {
	return NewClient(cfg.CallExport.Source)
}

// Module provides the source client to Fx.
var Module = fx.Options(
	fx.Provide(NewClientFromConfig),
)
