package thing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iot"
	iottypes "github.com/aws/aws-sdk-go-v2/service/iot/types"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"
	datatypes "github.com/aws/aws-sdk-go-v2/service/iotdataplane/types"
)

// IoTAPI is the subset of the IoT control-plane client used by AWSRegistry.
type IoTAPI interface {
	CreateThingType(ctx context.Context, params *iot.CreateThingTypeInput, optFns ...func(*iot.Options)) (*iot.CreateThingTypeOutput, error)
	CreateThing(ctx context.Context, params *iot.CreateThingInput, optFns ...func(*iot.Options)) (*iot.CreateThingOutput, error)
	UpdateThing(ctx context.Context, params *iot.UpdateThingInput, optFns ...func(*iot.Options)) (*iot.UpdateThingOutput, error)
	DescribeThing(ctx context.Context, params *iot.DescribeThingInput, optFns ...func(*iot.Options)) (*iot.DescribeThingOutput, error)
	ListThings(ctx context.Context, params *iot.ListThingsInput, optFns ...func(*iot.Options)) (*iot.ListThingsOutput, error)
	CreateThingGroup(ctx context.Context, params *iot.CreateThingGroupInput, optFns ...func(*iot.Options)) (*iot.CreateThingGroupOutput, error)
	ListThingGroups(ctx context.Context, params *iot.ListThingGroupsInput, optFns ...func(*iot.Options)) (*iot.ListThingGroupsOutput, error)
	AddThingToThingGroup(ctx context.Context, params *iot.AddThingToThingGroupInput, optFns ...func(*iot.Options)) (*iot.AddThingToThingGroupOutput, error)
}

// DataAPI is the subset of the IoT data-plane client used for shadows.
type DataAPI interface {
	GetThingShadow(ctx context.Context, params *iotdataplane.GetThingShadowInput, optFns ...func(*iotdataplane.Options)) (*iotdataplane.GetThingShadowOutput, error)
	UpdateThingShadow(ctx context.Context, params *iotdataplane.UpdateThingShadowInput, optFns ...func(*iotdataplane.Options)) (*iotdataplane.UpdateThingShadowOutput, error)
}

var (
	_ IoTAPI  = (*iot.Client)(nil)
	_ DataAPI = (*iotdataplane.Client)(nil)
)

// AWSRegistry implements Registry on the managed IoT service. Calls are
// not retried beyond what the SDK does itself.
type AWSRegistry struct {
	control IoTAPI
	data    DataAPI
}

// NewAWSRegistry creates a registry over the two IoT clients.
func NewAWSRegistry(control IoTAPI, data DataAPI) *AWSRegistry {
	return &AWSRegistry{control: control, data: data}
}

// CreateThingType registers a thing type.
func (r *AWSRegistry) CreateThingType(ctx context.Context, tt ThingType) error {
	if err := ValidateName(tt.Name); err != nil {
		return err
	}
	in := &iot.CreateThingTypeInput{ThingTypeName: aws.String(tt.Name)}
	if tt.Description != "" {
		in.ThingTypeProperties = &iottypes.ThingTypeProperties{ThingTypeDescription: aws.String(tt.Description)}
	}
	if _, err := r.control.CreateThingType(ctx, in); err != nil {
		return mapIoTError("creating thing type", err, ErrThingTypeNotFound)
	}
	return nil
}

// CreateThing registers a thing.
func (r *AWSRegistry) CreateThing(ctx context.Context, t Thing) (*Thing, error) {
	if err := ValidateName(t.Name); err != nil {
		return nil, err
	}
	in := &iot.CreateThingInput{ThingName: aws.String(t.Name)}
	if t.ThingType != "" {
		in.ThingTypeName = aws.String(t.ThingType)
	}
	attrs := dropEmpty(t.Attributes)
	if len(attrs) > 0 {
		in.AttributePayload = &iottypes.AttributePayload{Attributes: attrs}
	}
	if _, err := r.control.CreateThing(ctx, in); err != nil {
		return nil, mapIoTError("creating thing", err, ErrThingTypeNotFound)
	}
	if attrs == nil {
		attrs = map[string]string{}
	}
	return &Thing{Name: t.Name, ThingType: t.ThingType, Attributes: attrs, Version: 1}, nil
}

// UpdateThing merges attributes into a thing.
func (r *AWSRegistry) UpdateThing(ctx context.Context, t Thing) (*Thing, error) {
	in := &iot.UpdateThingInput{ThingName: aws.String(t.Name)}
	if t.ThingType != "" {
		in.ThingTypeName = aws.String(t.ThingType)
	}
	if len(t.Attributes) > 0 {
		in.AttributePayload = &iottypes.AttributePayload{Attributes: t.Attributes, Merge: true}
	}
	if _, err := r.control.UpdateThing(ctx, in); err != nil {
		return nil, mapIoTError("updating thing", err, ErrThingNotFound)
	}
	return r.DescribeThing(ctx, t.Name)
}

// DescribeThing returns one thing.
func (r *AWSRegistry) DescribeThing(ctx context.Context, name string) (*Thing, error) {
	out, err := r.control.DescribeThing(ctx, &iot.DescribeThingInput{ThingName: aws.String(name)})
	if err != nil {
		return nil, mapIoTError("describing thing", err, ErrThingNotFound)
	}
	attrs := out.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	return &Thing{
		Name:       aws.ToString(out.ThingName),
		ThingType:  aws.ToString(out.ThingTypeName),
		Attributes: attrs,
		Version:    out.Version,
	}, nil
}

// ListThings pages through the registry. Attribute filters with a value
// and type filters run server-side; Matches is applied to every page.
func (r *AWSRegistry) ListThings(ctx context.Context, filter ListFilter) ([]Thing, error) {
	in := &iot.ListThingsInput{}
	if filter.AttributeName != "" && filter.AttributeValue != "" {
		in.AttributeName = aws.String(filter.AttributeName)
		in.AttributeValue = aws.String(filter.AttributeValue)
	}
	if filter.ThingType != "" {
		in.ThingTypeName = aws.String(filter.ThingType)
	}

	things := []Thing{}
	pages := iot.NewListThingsPaginator(r.control, in)
	for pages.HasMorePages() {
		out, err := pages.NextPage(ctx)
		if err != nil {
			return nil, mapIoTError("listing things", err, ErrThingNotFound)
		}
		for _, a := range out.Things {
			t := Thing{
				Name:       aws.ToString(a.ThingName),
				ThingType:  aws.ToString(a.ThingTypeName),
				Attributes: a.Attributes,
				Version:    a.Version,
			}
			if t.Attributes == nil {
				t.Attributes = map[string]string{}
			}
			if filter.Matches(t) {
				things = append(things, t)
			}
		}
	}

	slices.SortFunc(things, func(a, b Thing) int { return strings.Compare(a.Name, b.Name) })
	return things, nil
}

// CreateThingGroup registers a thing group.
func (r *AWSRegistry) CreateThingGroup(ctx context.Context, g ThingGroup) error {
	if err := ValidateName(g.Name); err != nil {
		return err
	}
	in := &iot.CreateThingGroupInput{ThingGroupName: aws.String(g.Name)}
	if g.Description != "" {
		in.ThingGroupProperties = &iottypes.ThingGroupProperties{ThingGroupDescription: aws.String(g.Description)}
	}
	if _, err := r.control.CreateThingGroup(ctx, in); err != nil {
		return mapIoTError("creating thing group", err, ErrGroupNotFound)
	}
	return nil
}

// ListThingGroups pages through every group.
func (r *AWSRegistry) ListThingGroups(ctx context.Context) ([]ThingGroup, error) {
	groups := []ThingGroup{}
	pages := iot.NewListThingGroupsPaginator(r.control, &iot.ListThingGroupsInput{})
	for pages.HasMorePages() {
		out, err := pages.NextPage(ctx)
		if err != nil {
			return nil, mapIoTError("listing thing groups", err, ErrGroupNotFound)
		}
		for _, g := range out.ThingGroups {
			groups = append(groups, ThingGroup{Name: aws.ToString(g.GroupName)})
		}
	}

	slices.SortFunc(groups, func(a, b ThingGroup) int { return strings.Compare(a.Name, b.Name) })
	return groups, nil
}

// AddThingToThingGroup adds a thing to a group.
func (r *AWSRegistry) AddThingToThingGroup(ctx context.Context, group, thing string) error {
	_, err := r.control.AddThingToThingGroup(ctx, &iot.AddThingToThingGroupInput{
		ThingGroupName: aws.String(group),
		ThingName:      aws.String(thing),
	})
	if err != nil {
		return mapIoTError("adding thing to group", err, ErrGroupNotFound)
	}
	return nil
}

// GetThingShadow returns the classic shadow of a thing.
func (r *AWSRegistry) GetThingShadow(ctx context.Context, name string) (*Shadow, error) {
	out, err := r.data.GetThingShadow(ctx, &iotdataplane.GetThingShadowInput{ThingName: aws.String(name)})
	if err != nil {
		return nil, mapDataError("getting thing shadow", err)
	}
	return DecodeShadow(out.Payload)
}

// UpdateThingShadow sends u and reads back the full document, since the
// service only echoes the accepted part.
func (r *AWSRegistry) UpdateThingShadow(ctx context.Context, name string, u ShadowUpdate) (*Shadow, error) {
	if u.Empty() {
		return nil, fmt.Errorf("%w: shadow update has no desired or reported state", ErrInvalid)
	}
	payload, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("encoding shadow update: %w", err)
	}
	_, err = r.data.UpdateThingShadow(ctx, &iotdataplane.UpdateThingShadowInput{
		ThingName: aws.String(name),
		Payload:   payload,
	})
	if err != nil {
		return nil, mapDataError("updating thing shadow", err)
	}
	return r.GetThingShadow(ctx, name)
}

// mapIoTError translates service exceptions into package errors. notFound
// is the error a ResourceNotFoundException means for this call.
func mapIoTError(op string, err error, notFound error) error {
	var exists *iottypes.ResourceAlreadyExistsException
	if errors.As(err, &exists) {
		return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
	}
	var missing *iottypes.ResourceNotFoundException
	if errors.As(err, &missing) {
		return fmt.Errorf("%s: %w", op, notFound)
	}
	var invalid *iottypes.InvalidRequestException
	if errors.As(err, &invalid) {
		return fmt.Errorf("%s: %w: %s", op, ErrInvalid, invalid.ErrorMessage())
	}
	return fmt.Errorf("%s: %w", op, err)
}

func mapDataError(op string, err error) error {
	var missing *datatypes.ResourceNotFoundException
	if errors.As(err, &missing) {
		return fmt.Errorf("%s: %w", op, ErrShadowNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
