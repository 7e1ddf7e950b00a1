package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryListenerOrdering(t *testing.T) {
	r := NewRegistry()
	var order []string

	r.AddEventListener("tick", "plugin-b", 10, func(context.Context, Event) error { order = append(order, "b"); return nil })
	r.AddEventListener("tick", "plugin-a", 5, func(context.Context, Event) error { order = append(order, "a"); return nil })
	r.AddEventListener("tick", "plugin-c", 5, func(context.Context, Event) error { order = append(order, "c"); return nil })

	listeners := r.ListenersFor("tick")
	for _, l := range listeners {
		_ = l.Callback(context.Background(), Event{Name: "tick"})
	}
	assert.Equal(t, []string{"a", "c", "b"}, order)
}

func TestRegistryRemovePlugin(t *testing.T) {
	r := NewRegistry()
	r.AddEventListener("tick", "plugin-a", 0, func(context.Context, Event) error { return nil })
	r.AddEventListener("tick", "plugin-b", 0, func(context.Context, Event) error { return nil })
	r.AddHelpMessage("plugin-a", "!!a", "help a")
	r.AddCommand("plugin-a", nil)

	r.RemovePlugin("plugin-a")

	listeners := r.ListenersFor("tick")
	assert.Len(t, listeners, 1)
	assert.Equal(t, "plugin-b", listeners[0].PluginID)
	assert.Empty(t, r.HelpMessages())
	assert.Empty(t, r.Commands())
}
