package repository

import (
	"context"
	"log/slog"

	"github.com/chaz8081/nodelink/internal/ble/protocol"
)

// Controller sends power commands to the node's system characteristic.
type Controller struct {
	gateway Gateway
	service string
	char    string
}

// NewController creates a controller bound to chars.System.
func NewController(gateway Gateway, chars protocol.Characteristics) *Controller {
	return &Controller{gateway: gateway, service: chars.Service, char: chars.System}
}

// Restart reboots the node. The link drops shortly after a successful call.
func (c *Controller) Restart(ctx context.Context) bool {
	return c.send(ctx, protocol.CommandRestart)
}

// Sleep puts the node into deep sleep.
func (c *Controller) Sleep(ctx context.Context) bool {
	return c.send(ctx, protocol.CommandSleep)
}

func (c *Controller) send(ctx context.Context, cmd protocol.Command) bool {
	if _, ok := c.gateway.WriteWithResponse(ctx, c.service, c.char, string(cmd)); !ok {
		slog.Warn("[repo] system command failed", "command", string(cmd))
		return false
	}
	slog.Info("[repo] system command sent", "command", string(cmd))
	return true
}
