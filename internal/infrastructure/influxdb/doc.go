// Package influxdb records engine lifecycle metrics in InfluxDB 2.x.
//
// Every start, stop, exit and launch failure becomes one point in the
// engine_lifecycle measurement, tagged with the event kind and profile
// name, so uptime and crash frequency can be graphed per profile.
//
// Writes use the non-blocking, batched write API of influxdb-client-go and
// every point carries a host tag. Write failures are counted
// (WriteFailures) and delivered asynchronously to the SetOnError callback.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteEngineEvent(influxdb.EngineEvent{Kind: "started", Profile: "work", PID: 4242})
package influxdb
