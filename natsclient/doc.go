// Package natsclient wraps the NATS Go client with the reliability
// features the gatherer needs on flaky operational networks: a circuit
// breaker that fails fast after repeated connection failures, automatic
// reconnection with exponential backoff, periodic health monitoring,
// and context propagation on Subscribe handlers.
//
// Basic usage:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("segment-gatherer"),
//	    natsclient.WithMetrics(registry.CoreMetrics()),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	err = client.Subscribe(ctx, "file.msg.hrit", func(ctx context.Context, data []byte) {
//	    // decode and enqueue
//	})
//
// TestClient starts a throwaway NATS server in a container for
// integration tests.
package natsclient
