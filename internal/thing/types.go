package thing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"time"
)

// AttrUserID is the thing attribute holding the owning user's id.
const AttrUserID = "user_id"

const maxNameLength = 128

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9:_-]+$`)

// Thing is a registered device.
type Thing struct {
	Name       string            `json:"thingName"`
	ThingType  string            `json:"thingTypeName,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Version    int64             `json:"version"`
}

// ThingType classifies things. Types are immutable once created.
type ThingType struct {
	Name        string `json:"thingTypeName"`
	Description string `json:"description,omitempty"`
}

// ThingGroup is a named collection of things.
type ThingGroup struct {
	Name        string `json:"groupName"`
	Description string `json:"description,omitempty"`
}

// ListFilter narrows ListThings. Empty fields match everything.
type ListFilter struct {
	AttributeName  string
	AttributeValue string
	ThingType      string
}

// Matches reports whether t passes the filter.
func (f ListFilter) Matches(t Thing) bool {
	if f.ThingType != "" && t.ThingType != f.ThingType {
		return false
	}
	if f.AttributeName != "" {
		v, ok := t.Attributes[f.AttributeName]
		if !ok {
			return false
		}
		if f.AttributeValue != "" && v != f.AttributeValue {
			return false
		}
	}
	return true
}

// ValidateName checks a thing, type or group name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalid, maxNameLength)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: name %q contains invalid characters", ErrInvalid, name)
	}
	return nil
}

// ShadowState holds the desired and reported halves of a shadow. In an
// update document a nil map leaves that half alone and a nil value inside
// a map deletes the key.
type ShadowState struct {
	Desired  map[string]any `json:"desired"`
	Reported map[string]any `json:"reported"`
	Delta    map[string]any `json:"delta,omitempty"`
}

// Shadow is the registry's last-known state of a thing.
type Shadow struct {
	State     ShadowState `json:"state"`
	Version   int64       `json:"version"`
	Timestamp int64       `json:"timestamp"`
}

// ShadowUpdate is the body of an UpdateThingShadow request.
type ShadowUpdate struct {
	State ShadowState `json:"state"`
}

// MarshalJSON omits an absent half so the managed service does not read it
// as a request to clear that half.
func (u ShadowUpdate) MarshalJSON() ([]byte, error) {
	type state struct {
		Desired  map[string]any `json:"desired,omitempty"`
		Reported map[string]any `json:"reported,omitempty"`
	}
	return json.Marshal(struct {
		State state `json:"state"`
	}{state{u.State.Desired, u.State.Reported}})
}

// Desired builds an update that sets desired state.
func Desired(props map[string]any) ShadowUpdate {
	return ShadowUpdate{State: ShadowState{Desired: props}}
}

// Reported builds an update that sets reported state.
func Reported(props map[string]any) ShadowUpdate {
	return ShadowUpdate{State: ShadowState{Reported: props}}
}

// Empty reports whether the update changes nothing.
func (u ShadowUpdate) Empty() bool {
	return len(u.State.Desired) == 0 && len(u.State.Reported) == 0
}

// Apply merges u into the shadow, bumps the version and recomputes the
// delta.
func (s *Shadow) Apply(u ShadowUpdate, now time.Time) {
	s.State.Desired = mergeProps(s.State.Desired, u.State.Desired)
	s.State.Reported = mergeProps(s.State.Reported, u.State.Reported)
	s.State.Delta = s.Delta()
	s.Version++
	s.Timestamp = now.Unix()
}

// Value returns the reported value of key, falling back to desired.
func (s *Shadow) Value(key string) (any, bool) {
	if v, ok := s.State.Reported[key]; ok {
		return v, true
	}
	v, ok := s.State.Desired[key]
	return v, ok
}

// Delta returns the desired keys whose reported value differs.
// It returns nil when desired and reported agree.
func (s *Shadow) Delta() map[string]any {
	var delta map[string]any
	for k, want := range s.State.Desired {
		if got, ok := s.State.Reported[k]; ok && jsonEqual(got, want) {
			continue
		}
		if delta == nil {
			delta = make(map[string]any)
		}
		delta[k] = want
	}
	return delta
}

// Clone returns a deep-enough copy: the top-level maps are not shared.
func (s *Shadow) Clone() *Shadow {
	c := *s
	c.State.Desired = maps.Clone(s.State.Desired)
	c.State.Reported = maps.Clone(s.State.Reported)
	c.State.Delta = maps.Clone(s.State.Delta)
	return &c
}

// DecodeShadow parses a shadow document.
func DecodeShadow(data []byte) (*Shadow, error) {
	var s Shadow
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: decoding shadow: %w", ErrInvalid, err)
	}
	if s.State.Desired == nil {
		s.State.Desired = map[string]any{}
	}
	if s.State.Reported == nil {
		s.State.Reported = map[string]any{}
	}
	return &s, nil
}

func mergeProps(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	maps.Copy(out, base)
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

func jsonEqual(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}
