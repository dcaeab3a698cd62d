// Package builtin provides the tools every deployment ships with.
package builtin

import (
	"time"

	"github.com/haasonsaas/chatline/internal/tools"
)

// Register adds all built-in tools to reg. now may be nil.
func Register(reg *tools.Registry, now func() time.Time) error {
	for _, def := range []tools.Definition{Calculate(), CurrentTime(now), UserLocation()} {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}
