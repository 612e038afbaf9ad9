package topology

import "fmt"

// ARNs renders resource names for one region. The account segment is always
// "*" because grants are written account-agnostic.
type ARNs struct {
	Region string
}

// Table returns the resource name of a table.
func (a ARNs) Table(name string) string {
	return fmt.Sprintf("arn:aws:dynamodb:%s:*:table/%s", a.Region, name)
}

// TableIndexes returns the resource pattern covering every index of a table.
func (a ARNs) TableIndexes(name string) string {
	return a.Table(name) + "/index/*"
}

// TableIndex returns the resource name of one index.
func (a ARNs) TableIndex(table, index string) string {
	return a.Table(table) + "/index/" + index
}

// Thing returns the resource name of a registry thing.
func (a ARNs) Thing(name string) string {
	return fmt.Sprintf("arn:aws:iot:%s:*:thing/%s", a.Region, name)
}

// ThingType returns the resource name of a registry thing type.
func (a ARNs) ThingType(name string) string {
	return fmt.Sprintf("arn:aws:iot:%s:*:thingtype/%s", a.Region, name)
}

// ThingGroup returns the resource name of a registry thing group.
func (a ARNs) ThingGroup(name string) string {
	return fmt.Sprintf("arn:aws:iot:%s:*:thinggroup/%s", a.Region, name)
}

// Function returns the resource name of a compute unit.
func (a ARNs) Function(name string) string {
	return fmt.Sprintf("arn:aws:lambda:%s:*:function:%s", a.Region, name)
}

// Route returns the resource name of one method on one route of an API.
// The stage segment is "*" since routes are served from the default stage.
func (a ARNs) Route(apiID, method, path string) string {
	return fmt.Sprintf("arn:aws:execute-api:%s:*:%s/*/%s%s", a.Region, apiID, method, path)
}
