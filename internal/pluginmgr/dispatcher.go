package pluginmgr

import (
	"context"

	"github.com/kafuuchino-desu/mcdr-go/internal/plugin"
)

// EventDispatcher delivers the two built-in lifecycle events to a plugin's
// own subprocess. It is implemented by server.Facade and injected via
// SetDispatcher rather than imported directly, so this package never
// depends on internal/server (which already depends on internal/pluginmgr).
type EventDispatcher interface {
	DispatchPluginLoad(ctx context.Context, p *plugin.Plugin, oldInstance any) error
	DispatchPluginUnload(ctx context.Context, p *plugin.Plugin) error
}
