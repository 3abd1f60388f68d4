package ide

import (
	"context"

	"openui/cli/internal/bridge"
)

const EventNotice = "notice"

type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Notifier mirrors notices to the editor and to every browser tab.
type Notifier struct {
	companion *Companion
	hub       Hub
}

func NewNotifier(companion *Companion, hub Hub) *Notifier {
	return &Notifier{companion: companion, hub: hub}
}

func (n *Notifier) Notify(ctx context.Context, level, message string) {
	if n.companion != nil {
		n.companion.ShowMessage(ctx, level, message)
	}
	n.hub.Emit(bridge.RoleBrowser, EventNotice, Notice{Level: level, Message: message})
}
