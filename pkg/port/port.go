//  SPDX-FileCopyrightText: 2024-2025 OOMOL, Inc. <https://www.oomol.com>
//  SPDX-License-Identifier: MPL-2.0

// Package port probes TCP ports the hypervisor is about to bind, so a
// framebuffer listener conflict surfaces before the guest boots instead of
// as a mid-launch bind failure.
package port

import (
	"net"
	"strconv"
	"time"
)

const dialTimeout = 30 * time.Millisecond

// IsListening reports whether something already accepts connections on the
// address. An unspecified host is probed via loopback.
func IsListening(host string, port uint16) bool {
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))), dialTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
