// Package influxdb provides optional InfluxDB export for SpeechLink.
//
// It wraps the official influxdb-client-go v2 library. When enabled, one
// point is written per finished push-to-talk session and one per broker
// connection state change, so capture history can be graphed next to other
// site telemetry. Audio content is never written.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteUtterance(outcome)
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// flushed at least once a second; asynchronous write errors are delivered
// to the SetOnError callback.
package influxdb
