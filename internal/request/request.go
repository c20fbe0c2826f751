// Package request handles org.freedesktop.portal.Request objects returned by
// portal calls.
package request

import (
	"context"
	"crypto/rand"
	"math/big"
	"strconv"

	"github.com/godbus/dbus/v5"

	"go2tv.app/browserstream/internal/apis"
)

const (
	interfaceName = "org.freedesktop.portal.Request"
	closeCallName = interfaceName + ".Close"
)

// Close ends the request. For long-lived requests such as inhibitions this
// also withdraws whatever the request granted.
func Close(ctx context.Context, path dbus.ObjectPath) error {
	return apis.CallOnObject(ctx, path, closeCallName)
}

// Token returns a handle_token value with the given prefix. Tokens only need
// to be unique per connection.
func Token(prefix string) string {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<16))
	if err != nil {
		return prefix + "0"
	}
	return prefix + strconv.FormatUint(n.Uint64(), 16)
}

func TokenVariant(prefix string) dbus.Variant {
	return StringVariant(Token(prefix))
}

// StringVariant wraps s as a D-Bus "s" value for portal option maps.
func StringVariant(s string) dbus.Variant {
	return dbus.MakeVariant(s)
}
