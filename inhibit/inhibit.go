// Package inhibit asks the desktop session not to suspend or blank the
// screen while a stream is live, through the XDG Inhibit portal.
package inhibit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"go2tv.app/browserstream/internal/apis"
	"go2tv.app/browserstream/internal/request"
)

const (
	interfaceName   = apis.CallBaseName + ".Inhibit"
	inhibitCallName = interfaceName + ".Inhibit"
)

const (
	FlagLogout uint32 = 1 << iota
	FlagUserSwitch
	FlagSuspend
	FlagIdle
)

var ErrUnexpectedHandle = errors.New("unexpected inhibit handle from portal")

// Inhibitor holds one granted inhibition until Release.
type Inhibitor struct {
	handle dbus.ObjectPath

	mu       sync.Mutex
	released bool
}

// Acquire inhibits suspend and idle for the current session. The portal may
// show the reason to the user.
func Acquire(ctx context.Context, reason string) (*Inhibitor, error) {
	options := map[string]dbus.Variant{
		"handle_token": request.TokenVariant("browserstream"),
		"reason":       request.StringVariant(reason),
	}

	result, err := apis.Call(ctx, inhibitCallName, "", FlagSuspend|FlagIdle, options)
	if err != nil {
		return nil, err
	}
	handle, ok := result.(dbus.ObjectPath)
	if !ok || !handle.IsValid() {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedHandle, result)
	}
	return &Inhibitor{handle: handle}, nil
}

func (i *Inhibitor) Handle() dbus.ObjectPath {
	return i.handle
}

// Release withdraws the inhibition. Calling it again is a no-op.
func (i *Inhibitor) Release(ctx context.Context) error {
	if i == nil {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.released {
		return nil
	}
	i.released = true
	return request.Close(ctx, i.handle)
}

// Version reports the Inhibit portal interface version.
func Version() (uint32, error) {
	value, err := apis.GetProperty(interfaceName, "version")
	if err != nil {
		return 0, err
	}
	v, ok := value.(uint32)
	if !ok {
		return 0, fmt.Errorf("unexpected inhibit portal version type %T", value)
	}
	return v, nil
}
