// File: protocol/upgrader.go
// Package protocol implements HTTP→WebSocket handshake logic with strict validation.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ValidateUpgrade checks the request headers of an upgrade attempt and
// AcceptKey computes the Sec-WebSocket-Accept value per RFC 6455.

package protocol

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/aahoughton/cowboy/api"
)

const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// SupportedVersion is the only Sec-WebSocket-Version accepted.
const SupportedVersion = "13"

// HandshakeError describes a rejected upgrade and the HTTP status to answer
// with.
type HandshakeError struct {
	Status int
	Msg    string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("%v: %s", api.ErrBadHandshake, e.Msg)
}

func (e *HandshakeError) Unwrap() error { return api.ErrBadHandshake }

// HeaderGetter returns the combined value of a lower-case request header.
type HeaderGetter func(name string) string

// ValidateUpgrade checks the method and mandatory upgrade headers and returns
// the client key.
func ValidateUpgrade(method string, header HeaderGetter) (string, error) {
	if method != http.MethodGet {
		return "", &HandshakeError{Status: http.StatusBadRequest, Msg: "upgrade requires GET"}
	}
	if !HeaderContainsToken(header("connection"), "upgrade") ||
		!HeaderContainsToken(header("upgrade"), "websocket") {
		return "", &HandshakeError{Status: http.StatusBadRequest, Msg: "invalid upgrade headers"}
	}
	if v := header("sec-websocket-version"); v != SupportedVersion {
		return "", &HandshakeError{
			Status: http.StatusUpgradeRequired,
			Msg:    fmt.Sprintf("unsupported version %q", v),
		}
	}
	key := strings.TrimSpace(header("sec-websocket-key"))
	if key == "" {
		return "", &HandshakeError{Status: http.StatusBadRequest, Msg: "missing Sec-WebSocket-Key header"}
	}
	if raw, err := base64.StdEncoding.DecodeString(key); err != nil || len(raw) != 16 {
		return "", &HandshakeError{Status: http.StatusBadRequest, Msg: "malformed Sec-WebSocket-Key header"}
	}
	return key, nil
}

// AcceptKey computes the Sec-WebSocket-Accept value for key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key + websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ParseProtocols splits a Sec-WebSocket-Protocol header into its tokens.
func ParseProtocols(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// HeaderContainsToken checks if a comma separated header value contains
// token, case-insensitive.
func HeaderContainsToken(v, token string) bool {
	for _, p := range strings.Split(v, ",") {
		if strings.EqualFold(strings.TrimSpace(p), token) {
			return true
		}
	}
	return false
}
