// Package thing is the device registry the endpoint handler provisions
// devices into: things, thing types, thing groups and per-thing shadows.
//
// Two implementations satisfy Registry. LocalRegistry keeps everything in
// SQLite and can publish shadow changes to the MQTT bus so that real
// devices (or simulators) see desired state. AWSRegistry calls the managed
// IoT control plane and the IoT data plane for shadows.
//
// Shadow documents have the managed service's shape:
//
//	{"state":{"desired":{...},"reported":{...}},"version":3,"timestamp":1700000000}
//
// Updates merge per key and a JSON null removes a key.
package thing
