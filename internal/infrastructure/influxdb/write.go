package influxdb

import (
	"encoding/json"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementEndpointState holds one point per ingested state report.
const MeasurementEndpointState = "endpoint_state"

// WriteEndpointState records the reported properties of an endpoint.
// The write is non-blocking; points are batched and sent asynchronously.
//
//	client.WriteEndpointState("SAMPLE_ENDPOINT_7Q2K", "u1",
//	    map[string]any{"powerState": "ON", "Intensity.rangeValue": 4}, time.Now())
func (c *Client) WriteEndpointState(endpointID, userID string, props map[string]any, at time.Time) {
	if !c.IsConnected() || len(props) == 0 {
		return
	}
	c.writeAPI.WritePoint(EndpointStatePoint(endpointID, userID, props, at))
}

// EndpointStatePoint builds the point written by WriteEndpointState.
// Scalar values become fields as-is; anything else is stored as its JSON
// text. A zero time means now.
func EndpointStatePoint(endpointID, userID string, props map[string]any, at time.Time) *write.Point {
	if at.IsZero() {
		at = time.Now()
	}

	tags := map[string]string{"endpoint_id": endpointID}
	if userID != "" {
		tags["user_id"] = userID
	}

	fields := make(map[string]any, len(props))
	for name, v := range props {
		if f, ok := fieldValue(v); ok {
			fields[name] = f
		}
	}

	return write.NewPoint(MeasurementEndpointState, tags, fields, at)
}

func fieldValue(v any) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case string, bool, float64, float32, int, int32, int64, uint, uint32, uint64:
		return val, true
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f, true
		}
		return val.String(), true
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return nil, false
		}
		return string(data), true
	}
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
