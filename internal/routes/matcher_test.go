package routes

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/restcall/internal/types"
)

type GetWidget struct {
	Id int `json:"id"`
}

func (GetWidget) Routes() []types.Route {
	return []types.Route{types.NewRoute("/widgets/{Id}", "GET")}
}

type SearchWidgets struct {
	Name string `json:"name"`
	Page int    `json:"page"`
}

type FindOrders struct {
	CustomerId int    `json:"customerId"`
	OrderId    int    `json:"orderId"`
	Status     string `json:"status"`
}

func (FindOrders) Routes() []types.Route {
	return []types.Route{
		types.NewRoute("/orders", "GET"),
		types.NewRoute("/customers/{CustomerId}/orders", "GET"),
		types.NewRoute("/customers/{CustomerId}/orders/{OrderId}", "GET"),
	}
}

type PrioritizedRoutes struct {
	Id int
}

func (PrioritizedRoutes) Routes() []types.Route {
	return []types.Route{
		types.NewRoute("/low/{Id}", "GET").WithPriority(5),
		types.NewRoute("/top/{Id}", "GET").WithPriority(1),
	}
}

type AmbiguousLookup struct {
	Id  int
	Sku string
}

func (AmbiguousLookup) Routes() []types.Route {
	return []types.Route{
		types.NewRoute("/byid/{Id}", ""),
		types.NewRoute("/sku/{Sku}", ""),
	}
}

type BrokenTemplate struct {
	Id int
}

func (BrokenTemplate) Routes() []types.Route {
	return []types.Route{
		types.NewRoute("/broken/{Id", ""),
		types.NewRoute("/twice/{Id}}", ""),
		types.NewRoute("/unknown/{Missing}", ""),
	}
}

type GetFile struct {
	Path   string `json:"path"`
	Secret string `json:"secret" qs:"-"`
}

func (GetFile) Routes() []types.Route {
	return []types.Route{types.NewRoute("/files/{Path*}", "GET,HEAD")}
}

type AnyVerbRequest struct {
	Id   int
	Note string `json:"note"`
}

func (AnyVerbRequest) Routes() []types.Route {
	return []types.Route{types.NewRoute("/anything/{Id}", "ANY")}
}

type TaggedWidgets struct {
	Tags  []string  `json:"tags"`
	Since time.Time `json:"since"`
	Query string    `json:"q"`
}

type RenamedOperation struct{}

func (RenamedOperation) OperationName() string { return "Renamed" }

type RegisteredOnly struct {
	Code string
}

func TestResolve_SingleRouteSubstitutesVariables(t *testing.T) {
	uri, route, err := Resolve(&GetWidget{Id: 42}, "GET")
	require.NoError(t, err)
	assert.Equal(t, "/widgets/42", uri)
	require.NotNil(t, route)
	assert.Equal(t, "/widgets/{Id}", route.Path)
}

func TestResolve_UndeclaredVerbIsRoutingError(t *testing.T) {
	_, _, err := Resolve(GetWidget{Id: 42}, "POST")
	require.Error(t, err)

	var routeErr *Error
	require.True(t, errors.As(err, &routeErr))
	assert.False(t, routeErr.Ambiguous)
	require.Len(t, routeErr.Results, 1)
	assert.Contains(t, routeErr.Results[0].Reason, "do not support the specified 'POST' method")
	assert.Contains(t, err.Error(), "GetWidget")
}

func TestResolve_MissingVariableFailsRoute(t *testing.T) {
	_, _, err := Resolve(GetWidget{}, "GET")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not match following variables: Id")
}

func TestResolve_PredefinedRouteWithQueryString(t *testing.T) {
	m := &Matcher{BasePath: "/api/"}
	uri, route, err := m.Resolve(SearchWidgets{Name: "x", Page: 2}, "GET")
	require.NoError(t, err)
	assert.Nil(t, route)
	assert.Equal(t, "/api/SearchWidgets?name=x&page=2", uri)
}

func TestResolve_PredefinedRouteNeverFails(t *testing.T) {
	tests := []struct {
		name     string
		basePath string
		method   string
		request  any
		expected string
	}{
		{"default base path", "", "POST", SearchWidgets{Name: "x"}, "/json/reply/SearchWidgets"},
		{"base path without slashes", "api", "POST", &SearchWidgets{}, "/api/SearchWidgets"},
		{"empty get", "/api/", "GET", SearchWidgets{}, "/api/SearchWidgets"},
		{"delete carries query", "/api", "DELETE", SearchWidgets{Page: 3}, "/api/SearchWidgets?page=3"},
		{"renamed operation", "", "GET", RenamedOperation{}, "/json/reply/Renamed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Matcher{BasePath: tt.basePath}
			uri, _, err := m.Resolve(tt.request, tt.method)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, uri)
		})
	}
}

func TestResolve_MostBoundVariablesWins(t *testing.T) {
	uri, route, err := Resolve(FindOrders{CustomerId: 7, OrderId: 9, Status: "open"}, "GET")
	require.NoError(t, err)
	assert.Equal(t, "/customers/7/orders/9?status=open", uri)
	assert.Equal(t, "/customers/{CustomerId}/orders/{OrderId}", route.Path)

	uri, _, err = Resolve(FindOrders{CustomerId: 7}, "GET")
	require.NoError(t, err)
	assert.Equal(t, "/customers/7/orders", uri)

	uri, _, err = Resolve(FindOrders{Status: "open"}, "GET")
	require.NoError(t, err)
	assert.Equal(t, "/orders?status=open", uri)
}

func TestResolve_LowerPriorityWinsOnEqualSpecificity(t *testing.T) {
	uri, route, err := Resolve(PrioritizedRoutes{Id: 1}, "GET")
	require.NoError(t, err)
	assert.Equal(t, "/top/1", uri)
	assert.Equal(t, 1, route.Priority)
}

func TestResolve_AmbiguousRoutesFail(t *testing.T) {
	_, _, err := Resolve(AmbiguousLookup{Id: 1, Sku: "abc"}, "POST")
	require.Error(t, err)

	var routeErr *Error
	require.True(t, errors.As(err, &routeErr))
	assert.True(t, routeErr.Ambiguous)
	assert.Len(t, routeErr.Results, 2)

	uri, _, err := Resolve(AmbiguousLookup{Sku: "abc"}, "POST")
	require.NoError(t, err)
	assert.Equal(t, "/sku/abc", uri)
}

type LongOrShort struct {
	Id  int    `json:"id"`
	Sku string `json:"sku"`
}

func (LongOrShort) Routes() []types.Route {
	return []types.Route{
		types.NewRoute("/a-much-longer-prefix/{Id}", "GET,POST"),
		types.NewRoute("/s/{Sku}", "GET,POST"),
	}
}

type TwinRoutes struct {
	Id int `json:"id"`
}

func (TwinRoutes) Routes() []types.Route {
	return []types.Route{
		types.NewRoute("/a/{Id}", "GET"),
		types.NewRoute("/b/{Id}", "GET"),
	}
}

func TestResolve_TieBreaks(t *testing.T) {
	tests := []struct {
		name      string
		request   any
		method    string
		wantURI   string
		wantRoute string
	}{
		{"shorter template wins", LongOrShort{Id: 1, Sku: "x"}, "GET", "/s/x?id=1", "/s/{Sku}"},
		{"shorter template wins without query", LongOrShort{Id: 1, Sku: "x"}, "POST", "/s/x", "/s/{Sku}"},
		{"only the long route binds", LongOrShort{Id: 1}, "GET", "/a-much-longer-prefix/1", "/a-much-longer-prefix/{Id}"},
		{"same variables resolve to first declared", TwinRoutes{Id: 7}, "GET", "/a/7", "/a/{Id}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uri, route, err := Resolve(tt.request, tt.method)
			require.NoError(t, err)
			assert.Equal(t, tt.wantURI, uri)
			require.NotNil(t, route)
			assert.Equal(t, tt.wantRoute, route.Path)
		})
	}
}

func TestResolve_MalformedTemplatesAreSticky(t *testing.T) {
	_, _, err := Resolve(BrokenTemplate{Id: 1}, "GET")
	require.Error(t, err)

	var routeErr *Error
	require.True(t, errors.As(err, &routeErr))
	require.Len(t, routeErr.Results, 3)
	assert.Contains(t, routeErr.Results[0].Reason, "can not have a variable prefix without a suffix")
	assert.Contains(t, routeErr.Results[1].Reason, "can only have one variable")
	assert.Contains(t, routeErr.Results[2].Reason, "does not match any property")

	desc := DescriptorFor(BrokenTemplate{})
	first := desc.routes[0].err
	_, _, _ = Resolve(BrokenTemplate{Id: 2}, "GET")
	assert.Same(t, first, desc.routes[0].err)
}

func TestResolve_WildcardVariable(t *testing.T) {
	uri, _, err := Resolve(GetFile{Path: "docs/a b.txt", Secret: "s"}, "GET")
	require.NoError(t, err)
	assert.Equal(t, "/files/docs/a%20b.txt", uri)

	uri, _, err = Resolve(GetFile{}, "HEAD")
	require.NoError(t, err)
	assert.Equal(t, "/files/", uri)
}

func TestResolve_AnyVerbMarker(t *testing.T) {
	for _, method := range []string{"GET", "POST", "PATCH", "propfind"} {
		uri, _, err := Resolve(AnyVerbRequest{Id: 3}, method)
		require.NoError(t, err, method)
		assert.Equal(t, "/anything/3", uri)
	}
}

func TestResolve_BodyVerbsSkipQueryString(t *testing.T) {
	uri, _, err := Resolve(FindOrders{CustomerId: 1, Status: "open"}, "GET")
	require.NoError(t, err)
	assert.Equal(t, "/customers/1/orders?status=open", uri)

	// FindOrders only declares GET routes
	_, _, err = Resolve(FindOrders{CustomerId: 1, Status: "open"}, "POST")
	assert.Error(t, err)

	uri, _, err = Resolve(AnyVerbRequest{Id: 3, Note: "hi"}, "PUT")
	require.NoError(t, err)
	assert.Equal(t, "/anything/3", uri)

	uri, _, err = Resolve(AnyVerbRequest{Id: 3, Note: "hi"}, "DELETE")
	require.NoError(t, err)
	assert.Equal(t, "/anything/3?note=hi", uri)
}

func TestQueryString_FormatsValues(t *testing.T) {
	since := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	qs := QueryString(TaggedWidgets{Tags: []string{"a", "b c"}, Since: since, Query: "x&y"})
	assert.Equal(t, "tags=a%2Cb+c&since=2024-05-01T12%3A00%3A00Z&q=x%26y", qs)

	assert.Equal(t, "", QueryString(TaggedWidgets{}))
	assert.Equal(t, "q=z", QueryString(TaggedWidgets{Tags: []string{"a"}, Query: "z"}, "Tags"))
}

type Point struct {
	A int `json:"A"`
}

type NestedLookup struct {
	Inner Point          `json:"inner"`
	Attrs map[string]int `json:"attrs,omitempty"`
}

func (NestedLookup) Routes() []types.Route {
	return []types.Route{types.NewRoute("/n/{Inner}", "GET")}
}

func TestResolve_StructAndMapValuesTrimBraces(t *testing.T) {
	uri, _, err := Resolve(NestedLookup{Inner: Point{A: 1}, Attrs: map[string]int{"k": 2}}, "GET")
	require.NoError(t, err)
	assert.Equal(t, "/n/%22A%22:1?attrs=%22k%22%3A2", uri)

	assert.Equal(t, "1,2", formatValue([2]int{1, 2}))
	assert.Equal(t, "{", formatValue("{"))
}

func TestRegister_AddsRoutes(t *testing.T) {
	_, _, err := Resolve(RegisteredOnly{Code: "x"}, "GET")
	require.NoError(t, err) // predefined route

	Register(RegisteredOnly{}, types.NewRoute("/codes/{Code}", "GET"))

	uri, _, err := Resolve(&RegisteredOnly{Code: "x"}, "GET")
	require.NoError(t, err)
	assert.Equal(t, "/codes/x", uri)
}

func TestDescriptorFor_CachedPerType(t *testing.T) {
	var wg sync.WaitGroup
	results := make([]*Descriptor, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = DescriptorFor(&FindOrders{})
		}(i)
	}
	wg.Wait()

	for _, d := range results {
		assert.Same(t, results[0], d)
	}
	assert.Same(t, results[0], DescriptorFor(FindOrders{}))

	props := results[0].Properties()
	require.Len(t, props, 3)
	assert.Equal(t, "CustomerId", props[0].Name)
	assert.Equal(t, "customerId", props[0].WireName)
}

func TestDynamic_ResolvesAndMarshals(t *testing.T) {
	req := &Dynamic{
		Operation: "GetWidget",
		RouteList: []types.Route{types.NewRoute("/widgets/{id}", "GET")},
		Values: []KeyValue{
			{Key: "id", Value: 42},
			{Key: "zeta", Value: "last"},
			{Key: "alpha", Value: true},
		},
	}

	uri, _, err := Resolve(req, "GET")
	require.NoError(t, err)
	assert.Equal(t, "/widgets/42?zeta=last&alpha=true", uri)
	assert.Equal(t, "GetWidget", OperationName(req))

	data, err := req.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"id":42,"zeta":"last","alpha":true}`, string(data))
}

func TestValidMethodAndBodyless(t *testing.T) {
	assert.True(t, ValidMethod("get"))
	assert.True(t, ValidMethod("PROPFIND"))
	assert.False(t, ValidMethod("FETCH"))

	for _, m := range []string{"GET", "DELETE", "HEAD", "OPTIONS"} {
		assert.True(t, IsBodyless(m), m)
	}
	for _, m := range []string{"POST", "PUT", "PATCH"} {
		assert.False(t, IsBodyless(m), m)
	}
}

func ExampleResolve() {
	uri, _, err := Resolve(GetWidget{Id: 42}, "GET")
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(uri)
	// Output: /widgets/42
}
