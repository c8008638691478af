// Package plugins holds the built-in plugins.
package plugins

import "github.com/damoti/shipmaster/src/plugin"

// Default returns the built-in plugin constructors in registration order.
// Command contributions fold in this order.
func Default() []plugin.Constructor {
	return []plugin.Constructor{
		NewLog,
		NewSSH,
		NewSecrets,
		NewWaitFor,
		NewNotify,
	}
}
