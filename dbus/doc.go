// Package dbus implements the client side of the D-Bus wire protocol as
// needed to talk to the BlueZ daemon on the system bus: message
// marshaling with type-signature driven container traversal, an
// asynchronous method-call bridge, and PropertiesChanged signal
// subscriptions with daemon-side match rules.
//
// This is not a general D-Bus library. It speaks exactly the surface the
// Bluetooth management service exposes (method calls, error replies,
// property reads and property-change signals) and nothing else.
package dbus
