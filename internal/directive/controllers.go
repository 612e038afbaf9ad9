package directive

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/nerrad567/endpoint-cloud/internal/alexa"
	"github.com/nerrad567/endpoint-cloud/internal/endpoint"
	"github.com/nerrad567/endpoint-cloud/internal/thing"
)

// Property names written by the controllers.
const (
	PropPowerState  = "powerState"
	PropToggleState = "toggleState"
	PropRangeValue  = "rangeValue"
	PropMode        = "mode"
	PropCookingMode = "cookingMode"
)

const (
	stateOn  = "ON"
	stateOff = "OFF"
)

// defaultValues are reported for retrievable properties that were never set.
var defaultValues = map[string]any{
	alexa.NamespacePower:  stateOff,
	alexa.NamespaceToggle: stateOff,
	alexa.NamespaceRange:  float64(1),
}

type controllerKey struct {
	namespace string
	name      string
}

type controller func(ctx context.Context, d *Dispatcher, dir *alexa.Directive, ep *endpoint.Endpoint) *alexa.Response

var controllers = map[controllerKey]controller{
	{alexa.NamespaceAlexa, "ReportState"}:      reportState,
	{alexa.NamespacePower, "TurnOn"}:           setPower,
	{alexa.NamespacePower, "TurnOff"}:          setPower,
	{alexa.NamespaceToggle, "TurnOn"}:          setToggle,
	{alexa.NamespaceToggle, "TurnOff"}:         setToggle,
	{alexa.NamespaceRange, "SetRangeValue"}:    setRange,
	{alexa.NamespaceRange, "AdjustRangeValue"}: setRange,
	{alexa.NamespaceMode, "SetMode"}:           setMode,
	{alexa.NamespaceCooking, "SetCookingMode"}: setCookingMode,
}

func onOff(name string) string {
	if name == "TurnOn" {
		return stateOn
	}
	return stateOff
}

func setPower(ctx context.Context, d *Dispatcher, dir *alexa.Directive, ep *endpoint.Endpoint) *alexa.Response {
	value := onOff(dir.Header.Name)
	if errResp := d.apply(ctx, dir, ep, map[string]any{PropPowerState: value}); errResp != nil {
		return errResp
	}
	return d.respond(dir, alexa.NamespacePower, PropPowerState, "", value)
}

func setToggle(ctx context.Context, d *Dispatcher, dir *alexa.Directive, ep *endpoint.Endpoint) *alexa.Response {
	instance := dir.Header.Instance
	if instance == "" {
		return alexa.NewErrorResponse(dir, alexa.ErrorInvalidDirective, "toggle directive has no instance")
	}
	value := onOff(dir.Header.Name)
	key := alexa.StateKey(instance, PropToggleState)
	if errResp := d.apply(ctx, dir, ep, map[string]any{key: value}); errResp != nil {
		return errResp
	}
	return d.respond(dir, alexa.NamespaceToggle, PropToggleState, instance, value)
}

type rangePayload struct {
	RangeValue             *float64 `json:"rangeValue"`
	RangeValueDelta        *float64 `json:"rangeValueDelta"`
	RangeValueDeltaDefault bool     `json:"rangeValueDeltaDefault"`
}

func setRange(ctx context.Context, d *Dispatcher, dir *alexa.Directive, ep *endpoint.Endpoint) *alexa.Response {
	instance := dir.Header.Instance
	capability, ok := ep.Capability(alexa.NamespaceRange, instance)
	if !ok || instance == "" {
		return alexa.NewErrorResponse(dir, alexa.ErrorInvalidDirective,
			fmt.Sprintf("endpoint has no range controller instance %q", instance))
	}
	bounds, bounded := capability.SupportedRange()
	if !bounded {
		bounds.Precision = 1
	}

	var p rangePayload
	if err := dir.DecodePayload(&p); err != nil {
		return alexa.NewErrorResponse(dir, alexa.ErrorInvalidValue, err.Error())
	}

	key := alexa.StateKey(instance, PropRangeValue)
	var value float64
	switch dir.Header.Name {
	case "SetRangeValue":
		if p.RangeValue == nil {
			return alexa.NewErrorResponse(dir, alexa.ErrorInvalidValue, "rangeValue is required")
		}
		value = *p.RangeValue
	default:
		if p.RangeValueDelta == nil && !p.RangeValueDeltaDefault {
			return alexa.NewErrorResponse(dir, alexa.ErrorInvalidValue, "rangeValueDelta is required")
		}
		delta := bounds.Precision
		if !p.RangeValueDeltaDefault {
			delta = *p.RangeValueDelta
		}
		current, errResp := d.currentValue(ctx, dir, ep, alexa.NamespaceRange, key)
		if errResp != nil {
			return errResp
		}
		base, _ := current.(float64)
		value = base + delta
	}
	if bounded {
		value = bounds.Clamp(value)
	}

	if errResp := d.apply(ctx, dir, ep, map[string]any{key: value}); errResp != nil {
		return errResp
	}
	return d.respond(dir, alexa.NamespaceRange, PropRangeValue, instance, value)
}

func setMode(ctx context.Context, d *Dispatcher, dir *alexa.Directive, ep *endpoint.Endpoint) *alexa.Response {
	instance := dir.Header.Instance
	capability, ok := ep.Capability(alexa.NamespaceMode, instance)
	if !ok || instance == "" {
		return alexa.NewErrorResponse(dir, alexa.ErrorInvalidDirective,
			fmt.Sprintf("endpoint has no mode controller instance %q", instance))
	}

	var p struct {
		Mode string `json:"mode"`
	}
	if err := dir.DecodePayload(&p); err != nil || p.Mode == "" {
		return alexa.NewErrorResponse(dir, alexa.ErrorInvalidValue, "mode is required")
	}
	if supported := supportedModes(capability); supported != nil && !slices.Contains(supported, p.Mode) {
		return alexa.NewErrorResponse(dir, alexa.ErrorInvalidValue,
			fmt.Sprintf("mode %q is not supported by %s", p.Mode, instance))
	}

	key := alexa.StateKey(instance, PropMode)
	if errResp := d.apply(ctx, dir, ep, map[string]any{key: p.Mode}); errResp != nil {
		return errResp
	}
	return d.respond(dir, alexa.NamespaceMode, PropMode, instance, p.Mode)
}

// supportedModes reads configuration.supportedModes[].value. Nil means the
// capability does not restrict modes.
func supportedModes(c endpoint.Capability) []string {
	raw, ok := c.Configuration["supportedModes"].([]any)
	if !ok {
		return nil
	}
	modes := make([]string, 0, len(raw))
	for _, m := range raw {
		entry, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if v, ok := entry["value"].(string); ok {
			modes = append(modes, v)
		}
	}
	return modes
}

func setCookingMode(ctx context.Context, d *Dispatcher, dir *alexa.Directive, ep *endpoint.Endpoint) *alexa.Response {
	var p struct {
		CookingMode any `json:"cookingMode"`
	}
	if err := dir.DecodePayload(&p); err != nil || p.CookingMode == nil {
		return alexa.NewErrorResponse(dir, alexa.ErrorInvalidValue, "cookingMode is required")
	}
	if errResp := d.apply(ctx, dir, ep, map[string]any{PropCookingMode: p.CookingMode}); errResp != nil {
		return errResp
	}
	return d.respond(dir, alexa.NamespaceCooking, PropCookingMode, "", p.CookingMode)
}

// reportState answers with the value of every retrievable property.
func reportState(ctx context.Context, d *Dispatcher, dir *alexa.Directive, ep *endpoint.Endpoint) *alexa.Response {
	shadow, errResp := d.shadow(ctx, dir, ep)
	if errResp != nil {
		return errResp
	}

	now := d.now()
	resp := alexa.ReplyTo(dir, alexa.NamespaceAlexa, alexa.NameStateReport)
	for _, c := range ep.Capabilities {
		if c.Properties == nil || !c.Properties.Retrievable || len(c.Properties.Supported) == 0 {
			continue
		}
		name := c.Properties.Supported[0].Name
		value, ok := lookup(shadow, ep, c.Interface, alexa.StateKey(c.Instance, name))
		if !ok {
			continue
		}
		resp.AddProperty(c.Interface, name, c.Instance, value, now)
	}
	if resp.Context == nil {
		return alexa.NewErrorResponse(dir, alexa.ErrorInternal, "Cannot get device state")
	}
	resp.AddHealthy(now)
	return resp
}

// currentValue reads one property the way ReportState would.
func (d *Dispatcher) currentValue(ctx context.Context, dir *alexa.Directive, ep *endpoint.Endpoint, iface, key string) (any, *alexa.Response) {
	shadow, errResp := d.shadow(ctx, dir, ep)
	if errResp != nil {
		return nil, errResp
	}
	v, _ := lookup(shadow, ep, iface, key)
	return v, nil
}

// shadow loads the endpoint's shadow. A thing that was never updated has an
// empty shadow.
func (d *Dispatcher) shadow(ctx context.Context, dir *alexa.Directive, ep *endpoint.Endpoint) (*thing.Shadow, *alexa.Response) {
	s, err := d.registry.GetThingShadow(ctx, ep.EndpointID)
	if err != nil {
		if errors.Is(err, thing.ErrShadowNotFound) {
			return &thing.Shadow{}, nil
		}
		d.logger.Error("reading shadow", "endpoint_id", ep.EndpointID, "error", err)
		return nil, alexa.NewErrorResponse(dir, alexa.ErrorEndpointUnreachable, "device registry unavailable")
	}
	return s, nil
}

// lookup resolves a property: shadow reported, shadow desired, stored
// endpoint state, interface default.
func lookup(s *thing.Shadow, ep *endpoint.Endpoint, iface, key string) (any, bool) {
	if v, ok := s.Value(key); ok {
		return v, true
	}
	if v, ok := ep.State[key]; ok {
		return v, true
	}
	v, ok := defaultValues[iface]
	return v, ok
}

func (d *Dispatcher) respond(dir *alexa.Directive, namespace, name, instance string, value any) *alexa.Response {
	now := d.now()
	resp := alexa.ReplyTo(dir, alexa.NamespaceAlexa, alexa.NameResponse)
	resp.AddProperty(namespace, name, instance, value, now)
	resp.AddHealthy(now)
	return resp
}
