// Package bledb maps Bluetooth SIG assigned UUIDs to their names for
// friendlier CLI output. The table covers the common services and
// characteristics; unknown UUIDs simply have no name.
package bledb

import "strings"

const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID canonicalizes a UUID for lookup: lowercase, no braces,
// 0x prefix or dashes; full UUIDs on the Bluetooth SIG base collapse to
// their 16-bit short form.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")
	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// LookupService returns the assigned name of a service UUID.
func LookupService(uuid string) (string, bool) {
	name, ok := services[NormalizeUUID(uuid)]
	return name, ok
}

// LookupCharacteristic returns the assigned name of a characteristic
// UUID.
func LookupCharacteristic(uuid string) (string, bool) {
	name, ok := characteristics[NormalizeUUID(uuid)]
	return name, ok
}

var services = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery Service",
	"1810": "Blood Pressure",
	"1816": "Cycling Speed and Cadence",
	"1818": "Cycling Power",
	"181a": "Environmental Sensing",
	"181c": "User Data",
	"1826": "Fitness Machine",
	"fe59": "Nordic Secure DFU",
}

var characteristics = map[string]string{
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a05": "Service Changed",
	"2a19": "Battery Level",
	"2a23": "System ID",
	"2a24": "Model Number String",
	"2a25": "Serial Number String",
	"2a26": "Firmware Revision String",
	"2a27": "Hardware Revision String",
	"2a28": "Software Revision String",
	"2a29": "Manufacturer Name String",
	"2a35": "Blood Pressure Measurement",
	"2a37": "Heart Rate Measurement",
	"2a38": "Body Sensor Location",
	"2a6d": "Pressure",
	"2a6e": "Temperature",
	"2a6f": "Humidity",
	"2a90": "Last Name",
	"2acc": "Fitness Machine Feature",
}
