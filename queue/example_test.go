// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package queue_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/z5labs/mq/queue"
)

// ExampleAcknowledgment demonstrates the strict and best effort variants of
// settling a delivery.
func ExampleAcknowledgment() {
	ctx := context.Background()

	settler := queue.SettlerFuncs{
		AckFunc: func(ctx context.Context) error {
			fmt.Println("acked")
			return nil
		},
		NackFunc: func(ctx context.Context) error {
			fmt.Println("nacked")
			return nil
		},
	}

	ack := queue.NewAcknowledgment(true, settler)
	err := ack.Acknowledge(ctx)
	fmt.Println(err)

	// The delivery is already settled so this is a logged no-op.
	ack.TryAbandonAcknowledgment(ctx)

	unconfigured := queue.NewAcknowledgment(false, settler)
	err = unconfigured.Acknowledge(ctx)
	fmt.Println(errors.Is(err, queue.AcknowledgmentIsNotConfiguredForQueue))

	// Output: acked
	// <nil>
	// true
}

// ExampleRequest_Respond demonstrates that a request is only ever answered once.
func ExampleRequest_Respond() {
	ctx := context.Background()

	sender := queue.ReplySenderFunc(func(ctx context.Context, replyTo, correlationID string, body []byte) error {
		fmt.Printf("%s <- %s (%s)\n", replyTo, body, correlationID)
		return nil
	})

	req := queue.NewRequest([]byte("ping"), queue.NewResponder(sender, "replies", "42", nil))

	err := req.Respond(ctx, []byte("pong"))
	fmt.Println(err)

	err = req.Respond(ctx, []byte("pong"))
	fmt.Println(errors.Is(err, queue.ErrAlreadyResponded))

	// Output: replies <- pong (42)
	// <nil>
	// true
}
