// Package gatt implements the BlueZ GATT client operations: device
// connect and disconnect, characteristic read, write and notify, and
// characteristic discovery via the object manager. All operations go
// through a dbus.Conn; the package never touches HCI or L2CAP.
package gatt
