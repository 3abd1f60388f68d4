package application

import (
	"context"
	"io"
	"net"
	"os"
	"os/exec"

	"github.com/pkg/browser"
)

// RuntimeHooks are the side effects the runtime performs on the host. Tests
// replace them; zero fields fall back to the real implementations.
type RuntimeHooks struct {
	Listen      func(network, addr string) (net.Listener, error)
	OpenBrowser func(url string) error
	UserHomeDir func() (string, error)
	Command     func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func (h RuntimeHooks) withDefaults() RuntimeHooks {
	if h.Listen == nil {
		h.Listen = net.Listen
	}
	if h.OpenBrowser == nil {
		h.OpenBrowser = openBrowser
	}
	if h.UserHomeDir == nil {
		h.UserHomeDir = os.UserHomeDir
	}
	if h.Command == nil {
		h.Command = exec.CommandContext
	}
	return h
}

// openBrowser keeps the platform opener's output out of the terminal; the
// process output is the JSON log stream.
func openBrowser(url string) error {
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
	return browser.OpenURL(url)
}
