// Package capture implements the push-to-talk state machine and the
// microphone device behind it.
//
// A press engages the controller, which opens the device and starts a
// Session. Fragments from the device are appended in delivery order. A
// release asks the device to stop; the session only closes when the device
// acknowledges, so audio still in flight at release time is kept. The
// finished utterance is handed to an UtteranceHandler (the publisher).
//
//	dev := capture.NewFFmpegDevice(cfg.Capture)
//	ctrl := capture.NewController(dev, pub, capture.Options{...})
//	go ctrl.Run(ctx)
//
//	ctrl.Engage(capture.SourceKeyboard)
//	ctrl.Release(capture.SourceKeyboard)
package capture
