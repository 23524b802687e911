package dbus

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

const defaultSystemBusAddress = "unix:path=/var/run/dbus/system_bus_socket"

// systemBusAddress returns the daemon address, honoring the standard
// environment override.
func systemBusAddress() string {
	if s := os.Getenv("DBUS_SYSTEM_BUS_ADDRESS"); s != "" {
		return s
	}
	return defaultSystemBusAddress
}

func dialUnix(addr string) (net.Conn, error) {
	const prefix = "unix:path="
	if !strings.HasPrefix(addr, prefix) {
		return nil, fmt.Errorf("unsupported bus address %q", addr)
	}
	return net.Dial("unix", addr[len(prefix):])
}

// authExternal performs the SASL EXTERNAL handshake: a NUL credentials
// byte, AUTH EXTERNAL with the hex-encoded uid, then BEGIN.
func authExternal(conn net.Conn) error {
	if _, err := conn.Write([]byte{0}); err != nil {
		return err
	}
	rd := bufio.NewReader(conn)

	uid := hex.EncodeToString([]byte(strconv.Itoa(os.Getuid())))
	if _, err := fmt.Fprintf(conn, "AUTH EXTERNAL %s\r\n", uid); err != nil {
		return err
	}
	line, err := rd.ReadString('\n')
	if err != nil {
		return err
	}
	line = strings.TrimRight(line, "\r\n")
	if line != "OK" && !strings.HasPrefix(line, "OK ") {
		return fmt.Errorf("authentication rejected: %s", line)
	}
	_, err = conn.Write([]byte("BEGIN\r\n"))
	return err
}
