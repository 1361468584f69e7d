// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package sqs

import "log/slog"

// QueueNameAttr returns a slog attribute for the queue name.
func QueueNameAttr(name string) slog.Attr {
	return slog.String("messaging.destination.name", name)
}

// QueueURLAttr returns a slog attribute for the resolved queue URL.
func QueueURLAttr(url string) slog.Attr {
	return slog.String("aws.sqs.queue_url", url)
}

// MessageIDAttr returns a slog attribute for the message id.
func MessageIDAttr(id string) slog.Attr {
	return slog.String("messaging.message.id", id)
}
