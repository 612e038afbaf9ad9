// Package influxdb writes endpoint state telemetry to InfluxDB v2.
//
// Every state report ingested through /events or the MQTT bus becomes one
// point in the endpoint_state measurement, tagged with the endpoint and
// owning user:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteEndpointState("SAMPLE_ENDPOINT_7Q2K", "u1",
//	    map[string]any{"powerState": "ON"}, time.Now())
//
// A nil *Client is valid and drops every write, which is how the service
// runs when the integration is disabled.
package influxdb
