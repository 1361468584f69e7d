// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package zeromq

import (
	"strings"

	"github.com/z5labs/mq/queue"
	"github.com/z5labs/mq/queue/settings"
)

// QueueContext identifies this backend in error contexts.
const QueueContext = "ZeroMq"

var schema = settings.Schema{
	{Key: queue.AddressConfigKey, Kind: settings.NonBlankString, Required: true},
}

const highWatermark = 10000

// endpoint is a parsed ZeroMQ address. A leading '@' binds and a leading
// '>' connects. Without a prefix inbound sockets bind and outbound sockets
// connect.
type endpoint struct {
	addr string
	bind bool
}

func parseEndpoint(raw string, dir queue.Direction) endpoint {
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(s, "@"):
		return endpoint{addr: s[1:], bind: true}
	case strings.HasPrefix(s, ">"):
		return endpoint{addr: s[1:], bind: false}
	default:
		return endpoint{addr: s, bind: dir == queue.Inbound}
	}
}

type config struct {
	address  string
	endpoint endpoint
}

func parseConfig(raw map[string]string, dir queue.Direction) (config, error) {
	vals, err := settings.Validate(raw, dir, schema)
	if err != nil {
		return config{}, queue.Wrap(err, queue.GeneralConfigurationParsingError, queue.QueueContextKey, QueueContext)
	}

	addr := vals.String(queue.AddressConfigKey)
	return config{
		address:  addr,
		endpoint: parseEndpoint(addr, dir),
	}, nil
}
