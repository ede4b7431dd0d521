// Package netutil builds the HTTP clients used to reach manifest and file
// hosts.
package netutil

import (
	"net"
	"net/http"
	"time"
)

// Timeouts bound the phases of a request up to the response headers. Reading
// the body isn't bounded, so that large files can finish downloading over
// slow links.
type Timeouts struct {
	Dial           time.Duration
	TLSHandshake   time.Duration
	ResponseHeader time.Duration
}

// DefaultTimeouts are used by the CLI.
var DefaultTimeouts = Timeouts{
	Dial:           30 * time.Second,
	TLSHandshake:   10 * time.Second,
	ResponseHeader: 30 * time.Second,
}

// NewClient returns a client whose requests fail with a timeout error once
// any bounded phase takes too long. A zero timeout leaves that phase
// unbounded.
func NewClient(timeouts Timeouts) *http.Client {
	dialer := &net.Dialer{
		Timeout:   timeouts.Dial,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   timeouts.TLSHandshake,
			ResponseHeaderTimeout: timeouts.ResponseHeader,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   10,
		},
	}
}

// DefaultClient is used when a component isn't given a client.
var DefaultClient = NewClient(DefaultTimeouts)
