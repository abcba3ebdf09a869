// Package notify sends a short message about the run outcome through any
// shoutrrr service URL (slack://, telegram://, ntfy://, logger:// ...).
package notify

import (
	"errors"
	"fmt"

	"github.com/containrrr/shoutrrr"
	"github.com/containrrr/shoutrrr/pkg/router"
)

// Notifier delivers messages to one or more service URLs.
type Notifier struct {
	sender *router.ServiceRouter
}

// New creates a notifier for the given shoutrrr URLs.
func New(urls ...string) (*Notifier, error) {
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("create notification sender: %w", err)
	}
	return &Notifier{sender: sender}, nil
}

// Send delivers message to every service, joining the per-service errors.
func (n *Notifier) Send(message string) error {
	var errs []error
	for _, err := range n.sender.Send(message, nil) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
