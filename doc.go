// Package vrlink implements the session/streaming engine of a real-time
// VR streaming client.
//
// The engine establishes a session with a host on the local network,
// negotiates stream parameters, and then exchanges tracking telemetry,
// encoded video and bidirectional audio, keeping all three aligned against
// a drift-corrected shared clock. It is designed to run embedded inside a
// VR runtime that owns rendering surfaces and audio devices: the engine
// never decodes or presents media itself, it hands buffers across a narrow
// callback boundary.
//
// Example:
//
//	options := vrlink.NewOptions()
//	options.HostAddress = "192.168.1.50:9943"
//
//	client, err := vrlink.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client.SetVideoFrameHandler(func(frame *jitter.Frame) {
//	    decoder.Submit(frame.Payload, frame.PlayoutTime)
//	})
//
//	if err := client.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Stop()
//
//	for {
//	    if ev, ok := client.PollEvent(); ok {
//	        handle(ev)
//	    }
//	    client.SendTracking(pose.Encode())
//	}
package vrlink
