// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"bytes"
	"context"
	_ "embed"
	"os"

	"github.com/z5labs/mq"
	"github.com/z5labs/mq/example/fulfillment/app"
)

//go:embed config.yaml
var configBytes []byte

func main() {
	err := mq.Run(context.Background(), mq.FromConfig(bytes.NewReader(configBytes), app.Init))
	if err != nil {
		os.Exit(1)
	}
}
