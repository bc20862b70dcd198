/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ipc implements the external wire protocol of spec.md §6: a raw
// TCP socket, loopback by default, exchanging record-separated messages
// with whatever UI process is driving the engine. The framing is kept
// byte-for-byte compatible with the original wire format rather than
// redesigned, since external UIs depend on it; only the internal plumbing
// (bus subscriptions, coordinator calls) is idiomatic Go.
package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// recordSeparator terminates every wire message (spec.md §6).
const recordSeparator = 0x1E

// message is a parsed wire message: a bare tag, or a tag with a JSON body.
type message struct {
	tag  string
	body json.RawMessage
}

// encode renders a message for the wire: "tag" or "tag:json", followed by
// the record separator.
func encode(tag string, payload any) ([]byte, error) {
	var buf strings.Builder
	buf.WriteString(tag)
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("ipc: encode %s: %w", tag, err)
		}
		buf.WriteByte(':')
		buf.Write(body)
	}
	buf.WriteByte(recordSeparator)
	return []byte(buf.String()), nil
}

// readMessage reads one record-separated frame from r and parses it into a
// tag plus optional JSON body.
func readMessage(r *bufio.Reader) (message, error) {
	raw, err := r.ReadString(recordSeparator)
	if err != nil {
		return message{}, err
	}
	raw = strings.TrimSuffix(raw, string(rune(recordSeparator)))

	if idx := strings.IndexByte(raw, ':'); idx >= 0 {
		return message{tag: raw[:idx], body: json.RawMessage(raw[idx+1:])}, nil
	}
	return message{tag: raw}, nil
}

// looksLikeURL reports whether tag is itself a URL, per spec.md §6's
// "unknown tags that parse as URLs are taken as enqueue this track" rule.
func looksLikeURL(tag string) bool {
	u, err := url.Parse(tag)
	if err != nil {
		return false
	}
	return u.Scheme != "" && (u.Host != "" || u.Path != "")
}
