// Package mqtt manages the single outbound broker connection for SpeechLink.
//
// This package manages:
//   - Connecting to the broker over tcp, ssl, ws or wss
//   - Automatic retry and reconnect with exponential backoff
//   - An explicit ConnectionState (disconnected, connecting, connected, closing)
//   - Non-blocking publishing that refuses to send unless connected
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// The push-to-talk client never subscribes. It publishes finished
// utterances to peopleconnect/speech and a retained status message to
// peopleconnect/client/{id}/status.
//
//	capture → utterance → publisher → Client ↔ Broker ↔ voice backend
//
// # Delivery semantics
//
// Publish hands the message to paho and returns. There is no offline queue:
// an utterance produced while the connection is down is dropped with
// ErrNotConnected. The default QoS is 0.
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT)
//	client.SetLogger(logger)
//	client.Start()
//	defer client.Stop()
//
//	if err := client.Publish(mqtt.Topics{}.Speech(), payload, 0, false); err != nil {
//	    // errors.Is(err, mqtt.ErrNotConnected)
//	}
package mqtt
