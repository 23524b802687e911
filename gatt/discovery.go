package gatt

import (
	"context"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/kmw/bluewire/dbus"
)

// objectTreeSig is the GetManagedObjects reply: object path to interface
// name to properties.
const objectTreeSig = "{oa{sa{sv}}}"

// walkObjectTree decodes one GetManagedObjects reply and calls visit for
// every (path, interface) pair. Properties are skipped without decoding;
// objects exposing no properties under an interface are fine.
func walkObjectTree(d *dbus.Decoder, visit func(path dbus.ObjectPath, iface string)) error {
	outer := d.EnterArray(objectTreeSig)
	for d.More(outer) {
		d.EnterStruct()
		path := d.ReadObjectPath()
		inner := d.EnterArray("{sa{sv}}")
		for d.More(inner) {
			d.EnterStruct()
			iface := d.ReadString()
			d.Skip("a{sv}")
			if d.Err() != nil {
				break
			}
			visit(path, iface)
		}
	}
	return d.Err()
}

func managedObjects(ctx context.Context, conn *dbus.Conn) (*dbus.Decoder, error) {
	return conn.Call(ctx, Service, rootPath, objectManagerInterface, "GetManagedObjects", "", nil)
}

// Characteristics enumerates the device's GATT characteristics and maps
// each UUID to its object path, in discovery order. The bulk enumeration
// is one GetManagedObjects call; the UUID of each characteristic is then
// read with a property get, since the bulk walk skips property decoding.
func (d *Device) Characteristics(ctx context.Context) (*orderedmap.OrderedMap[string, dbus.ObjectPath], error) {
	dec, err := managedObjects(ctx, d.conn)
	if err != nil {
		return nil, fmt.Errorf("device %s: enumerate: %w", d.path, err)
	}

	prefix := string(d.path) + "/"
	var paths []dbus.ObjectPath
	err = walkObjectTree(dec, func(path dbus.ObjectPath, iface string) {
		if iface == characteristicInterface && strings.HasPrefix(string(path), prefix) {
			paths = append(paths, path)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("device %s: enumerate: %w", d.path, err)
	}

	chars := orderedmap.New[string, dbus.ObjectPath]()
	for _, path := range paths {
		v, err := d.conn.GetProperty(ctx, Service, path, characteristicInterface, "UUID")
		if err != nil {
			return nil, fmt.Errorf("characteristic %s: uuid: %w", path, err)
		}
		uuid, ok := v.Value.(string)
		if !ok {
			return nil, fmt.Errorf("characteristic %s: uuid has type %q", path, v.Sig)
		}
		chars.Set(uuid, path)
	}
	d.logger.WithFields(map[string]any{
		"device":          d.path,
		"characteristics": chars.Len(),
	}).Debug("enumerated characteristics")
	return chars, nil
}

// DefaultAdapter returns the first adapter object the daemon manages.
func DefaultAdapter(ctx context.Context, conn *dbus.Conn) (*Adapter, error) {
	dec, err := managedObjects(ctx, conn)
	if err != nil {
		return nil, err
	}
	var found dbus.ObjectPath
	err = walkObjectTree(dec, func(path dbus.ObjectPath, iface string) {
		if iface == adapterInterface && found == "" {
			found = path
		}
	})
	if err != nil {
		return nil, err
	}
	if found == "" {
		return nil, ErrNoAdapter
	}
	return &Adapter{conn: conn, path: found}, nil
}
