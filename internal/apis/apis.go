// Package apis calls methods on the XDG desktop portal over the session bus.
package apis

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	ObjectName   = "org.freedesktop.portal.Desktop"
	ObjectPath   = "/org/freedesktop/portal/desktop"
	CallBaseName = "org.freedesktop.portal"
)

// Bus is the part of *dbus.Conn the portal helpers use.
type Bus interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
}

// SessionBus is replaced in tests.
var SessionBus = func() (Bus, error) {
	return dbus.SessionBus()
}

// Call invokes a method on the desktop object and stores its single output
// value.
func Call(ctx context.Context, callName string, args ...any) (any, error) {
	call, err := callOnObject(ctx, ObjectPath, callName, args...)
	if err != nil {
		return nil, err
	}

	var result any
	if err := call.Store(&result); err != nil {
		return nil, fmt.Errorf("%s: %w", callName, err)
	}
	return result, nil
}

// CallOnObject invokes a method without outputs on another portal object,
// typically a request or session handle.
func CallOnObject(ctx context.Context, path dbus.ObjectPath, callName string, args ...any) error {
	_, err := callOnObject(ctx, path, callName, args...)
	return err
}

func callOnObject(ctx context.Context, path dbus.ObjectPath, callName string, args ...any) (*dbus.Call, error) {
	conn, err := SessionBus()
	if err != nil {
		return nil, err
	}

	call := conn.Object(ObjectName, path).CallWithContext(ctx, callName, 0, args...)
	if call.Err != nil {
		return nil, fmt.Errorf("%s: %w", callName, call.Err)
	}
	return call, nil
}

// GetProperty reads interfaceName.property from the desktop object.
func GetProperty(interfaceName, property string) (any, error) {
	conn, err := SessionBus()
	if err != nil {
		return nil, err
	}

	v, err := conn.Object(ObjectName, ObjectPath).GetProperty(interfaceName + "." + property)
	if err != nil {
		return nil, err
	}
	return v.Value(), nil
}
