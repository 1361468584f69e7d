// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package mq

import (
	"encoding/json"

	"github.com/z5labs/mq/queue"
)

// Codec converts typed payloads to and from the raw bytes carried by a queue.
type Codec interface {
	Marshal(any) ([]byte, error)
	Unmarshal([]byte, any) error
}

// JSON is the default [Codec].
type JSON struct{}

// Marshal implements the [Codec] interface.
func (JSON) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal implements the [Codec] interface.
func (JSON) Unmarshal(b []byte, v any) error {
	return json.Unmarshal(b, v)
}

func encode[T any](c Codec, v T) ([]byte, error) {
	b, err := c.Marshal(v)
	if err != nil {
		return nil, queue.NewError(queue.FailedToSerializeObjectIntoJsonBytes, err)
	}
	return b, nil
}

func decode[T any](c Codec, b []byte) (T, error) {
	var v T
	err := c.Unmarshal(b, &v)
	if err != nil {
		return v, queue.NewError(queue.FailedToDeserializeJsonBytes, err)
	}
	return v, nil
}
