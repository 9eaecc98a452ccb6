// Package influxdb streams decoded robot telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library: non-blocking
// batched writes, async error callback, health checks. The coordinator
// feeds it merged DP values; each numeric DP becomes a point tagged by
// target and model.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    // telemetry is optional, run without it
//	}
//	defer client.Close()
//
//	client.WriteDP("d1", "WY460", dp)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Write errors surface asynchronously via SetOnError.
package influxdb
