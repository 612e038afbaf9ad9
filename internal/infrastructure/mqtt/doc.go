// Package mqtt connects Endpoint Cloud to the device bus.
//
// The local device registry publishes shadow documents and deltas here, and
// devices (or simulators) publish their reported state back:
//
//	registry → endpointcloud/things/{thing}/shadow/update[/delta] → device
//	device   → endpointcloud/things/{thing}/shadow/reported      → /events ingestion
//
// The client reconnects automatically with bounded backoff, restores its
// subscriptions, and keeps a retained online/offline status on
// endpointcloud/system/status (with a last will for crashes).
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllShadowReported(), 1, handler)
//
// Use TLS (cfg.Broker.TLS) for anything beyond a local broker.
package mqtt
