package endpoint

import (
	"maps"
	"slices"
	"time"
)

// State is the last known property values of an endpoint, keyed by property
// name (e.g. "powerState", "Blinds.Position.rangeValue").
type State map[string]any

// Endpoint is a device as exposed to the voice platform.
type Endpoint struct {
	EndpointID        string            `json:"endpointId" dynamodbav:"EndpointId"`
	UserID            string            `json:"userId" dynamodbav:"UserId"`
	FriendlyName      string            `json:"friendlyName" dynamodbav:"FriendlyName"`
	Description       string            `json:"description" dynamodbav:"Description"`
	ManufacturerName  string            `json:"manufacturerName" dynamodbav:"ManufacturerName"`
	SKU               string            `json:"sku" dynamodbav:"SKU"`
	DisplayCategories []string          `json:"displayCategories" dynamodbav:"DisplayCategories"`
	Capabilities      []Capability      `json:"capabilities" dynamodbav:"Capabilities"`
	Cookie            map[string]string `json:"cookie,omitempty" dynamodbav:"Cookie,omitempty"`
	State             State             `json:"state,omitempty" dynamodbav:"State,omitempty"`
	StateUpdatedAt    *time.Time        `json:"stateUpdatedAt,omitempty" dynamodbav:"StateUpdatedAt,omitempty"`
	CreatedAt         time.Time         `json:"createdAt" dynamodbav:"CreatedAt"`
	UpdatedAt         time.Time         `json:"updatedAt" dynamodbav:"UpdatedAt"`
}

// Capability is one voice-platform interface the endpoint implements.
type Capability struct {
	Type                string         `json:"type" dynamodbav:"Type"`
	Interface           string         `json:"interface" dynamodbav:"Interface"`
	Instance            string         `json:"instance,omitempty" dynamodbav:"Instance,omitempty"`
	Version             string         `json:"version" dynamodbav:"Version"`
	Properties          *Properties    `json:"properties,omitempty" dynamodbav:"Properties,omitempty"`
	Configuration       map[string]any `json:"configuration,omitempty" dynamodbav:"Configuration,omitempty"`
	CapabilityResources map[string]any `json:"capabilityResources,omitempty" dynamodbav:"CapabilityResources,omitempty"`
	Semantics           map[string]any `json:"semantics,omitempty" dynamodbav:"Semantics,omitempty"`
}

// Properties lists the reportable properties of a capability.
type Properties struct {
	Supported           []Property `json:"supported" dynamodbav:"Supported"`
	ProactivelyReported bool       `json:"proactivelyReported" dynamodbav:"ProactivelyReported"`
	Retrievable         bool       `json:"retrievable" dynamodbav:"Retrievable"`
}

// Property names one reportable property.
type Property struct {
	Name string `json:"name" dynamodbav:"Name"`
}

// Range is the supportedRange configuration of a RangeController instance.
type Range struct {
	Min       float64
	Max       float64
	Precision float64
}

// Capability returns the capability for iface and, when non-empty, instance.
func (e *Endpoint) Capability(iface, instance string) (Capability, bool) {
	for _, c := range e.Capabilities {
		if c.Interface == iface && (instance == "" || c.Instance == instance) {
			return c, true
		}
	}
	return Capability{}, false
}

// SupportedRange reads the supportedRange configuration, if any.
func (c Capability) SupportedRange() (Range, bool) {
	raw, ok := c.Configuration["supportedRange"].(map[string]any)
	if !ok {
		return Range{}, false
	}
	r := Range{Precision: 1}
	minV, okMin := number(raw["minimumValue"])
	maxV, okMax := number(raw["maximumValue"])
	if !okMin || !okMax {
		return Range{}, false
	}
	r.Min, r.Max = minV, maxV
	if p, ok := number(raw["precision"]); ok && p > 0 {
		r.Precision = p
	}
	return r, true
}

// Clamp limits v to the range.
func (r Range) Clamp(v float64) float64 {
	return max(r.Min, min(r.Max, v))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Clone returns a deep copy of the record's mutable fields. Capability
// configuration maps are shared; callers treat them as read-only.
func (e *Endpoint) Clone() *Endpoint {
	c := *e
	c.DisplayCategories = slices.Clone(e.DisplayCategories)
	c.Capabilities = slices.Clone(e.Capabilities)
	c.Cookie = maps.Clone(e.Cookie)
	c.State = maps.Clone(e.State)
	if e.StateUpdatedAt != nil {
		t := *e.StateUpdatedAt
		c.StateUpdatedAt = &t
	}
	return &c
}

// MergeState applies patch to base: each key overwrites, a nil value
// removes the key. base is modified and returned; a nil base is allocated.
func MergeState(base, patch State) State {
	if base == nil {
		base = State{}
	}
	for k, v := range patch {
		if v == nil {
			delete(base, k)
			continue
		}
		base[k] = v
	}
	return base
}

func stamp(e *Endpoint, now time.Time) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
}
