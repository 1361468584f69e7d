// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package nats

import "log/slog"

// SubjectAttr returns a slog attribute for the subject.
func SubjectAttr(subject string) slog.Attr {
	return slog.String("messaging.destination.name", subject)
}

// StreamAttr returns a slog attribute for the JetStream stream name.
func StreamAttr(name string) slog.Attr {
	return slog.String("messaging.nats.stream", name)
}

// AddressAttr returns a slog attribute for the server URL.
func AddressAttr(addr string) slog.Attr {
	return slog.String("server.address", addr)
}
