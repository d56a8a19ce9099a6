// Package obsws is a client for the obs-websocket v5 protocol: one
// WebSocket connection carrying JSON frames, over which the client issues
// named requests and receives unsolicited events.
//
// Connect performs the full Hello → Identify → Identified handshake,
// including challenge-response authentication, and returns an active
// client. Requests are correlated by id and can be issued concurrently
// from any goroutine; events fan out to any number of independent
// subscriptions.
//
// Example:
//
//	client, err := obsws.Connect(ctx, obsws.Config{
//		Host:     "localhost",
//		Port:     4455,
//		Password: "secret",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Disconnect()
//
//	// Generic request; the caller owns both payload shapes.
//	version, err := obsws.Call[struct {
//		ObsVersion string `json:"obsVersion"`
//	}](ctx, client, "GetVersion", nil)
//
//	// Events, from this point on.
//	events, err := client.Events()
//	if err != nil {
//		log.Fatal(err)
//	}
//	for ev := range events.C {
//		fmt.Println(ev.Type)
//	}
//
// The client never reconnects on its own: when the connection terminates,
// every pending request, reidentify call and event subscription is failed
// over with ErrDisconnected (subscriptions observe a closed channel), and
// a fresh client must be connected.
package obsws
