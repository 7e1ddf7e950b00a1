// Copyright 2025 James Ross
package server

import "errors"

// ErrIllegalCall is raised when a plugin-registration method
// (AddHelpMessage, AddEventListener, AddCommand) is invoked without a
// current-plugin context attached: the façade can only attribute a
// registration to a plugin while that plugin's own dispatch is in flight.
var ErrIllegalCall = errors.New("server: registration call made outside of plugin dispatch context")

// ErrNotOnReactorThread is raised when a plugin-management method
// (LoadPlugin, UnloadPlugin, ReloadPlugin, RefreshAll, ...) is invoked from
// a goroutine that isn't a reactor worker, so plugin-set mutation always
// happens on the single serialization domain the reactor owns.
var ErrNotOnReactorThread = errors.New("server: plugin-management call made off the reactor thread")
