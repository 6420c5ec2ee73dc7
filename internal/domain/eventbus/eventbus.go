// Package eventbus carries session, meeting and transcript events between
// components.
package eventbus

import (
	evbus "github.com/asaskevich/EventBus"
)

// New returns a synchronous bus.
func New() evbus.Bus {
	return evbus.New()
}
