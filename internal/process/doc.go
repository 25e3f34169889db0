// Package process runs a child process and streams its output.
//
// SpeechLink uses it to drive the ffmpeg process that records the
// microphone for one push-to-talk session: stdout carries the encoded
// audio, stderr is logged.
//
// Features:
//   - Start/stop subprocess with graceful shutdown (configurable signal, then SIGKILL)
//   - Stdout streamed to a callback in read order
//   - OnStop fires only after stdout has been fully drained
//   - Trailing stderr attached to the exit error
//   - Context-based cancellation for clean shutdown
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:       "ffmpeg",
//	    Binary:     "ffmpeg",
//	    Args:       args,
//	    StopSignal: syscall.SIGINT,
//	    OnStdout:   func(chunk []byte) { sink.Fragment(chunk) },
//	    OnStop:     func(err error) { sink.Stopped(err) },
//	})
//
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
