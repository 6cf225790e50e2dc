package channel

import (
	"github.com/flemzord/sbridge/internal/core"
)

// Channel is a channel module: a core.Module that also exposes the Adapter
// facade. The application registers every loaded Channel in a Registry.
type Channel interface {
	core.Module
	Adapter
}
