// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package privilege_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taibuivan/restgate/internal/privilege"
	"github.com/taibuivan/restgate/pkg/universalid"
)

var (
	serviceA = universalid.MustParse("aa000000000000000000000000000001")
	serviceB = universalid.MustParse("aa000000000000000000000000000002")
	schemaA  = universalid.MustParse("bb000000000000000000000000000001")
	objectA  = universalid.MustParse("cc000000000000000000000000000001")
	objectB  = universalid.MustParse("cc000000000000000000000000000002")
)

/*
TestAggregate_ByID tests id-scoped grant aggregation, including the rule that
any matching selector component applies the grant.
*/
func TestAggregate_ByID(t *testing.T) {
	grants := []privilege.Privilege{
		{Access: privilege.AccessRead, ByID: &privilege.SelectByID{ServiceID: serviceA}},
		{Access: privilege.AccessUpdate, ByID: &privilege.SelectByID{ObjectID: objectA}},
	}

	tests := []struct {
		name   string
		target privilege.Target
		want   privilege.Access
	}{
		{
			"object_under_granted_service",
			privilege.Target{ServiceID: serviceA, SchemaID: schemaA, ObjectID: objectB},
			privilege.AccessRead,
		},
		{
			"granted_object_on_other_service",
			privilege.Target{ServiceID: serviceB, SchemaID: schemaA, ObjectID: objectA},
			privilege.AccessUpdate,
		},
		{
			"both_grants_apply",
			privilege.Target{ServiceID: serviceA, SchemaID: schemaA, ObjectID: objectA},
			privilege.AccessRead | privilege.AccessUpdate,
		},
		{
			"nothing_applies",
			privilege.Target{ServiceID: serviceB, ObjectID: objectB},
			privilege.AccessNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, privilege.Aggregate(grants, tt.target))
		})
	}
}

/*
TestAggregate_Global tests that grants without a selector, or with a fully
unset id selector, apply everywhere.
*/
func TestAggregate_Global(t *testing.T) {
	grants := []privilege.Privilege{
		{Access: privilege.AccessRead},
		{Access: privilege.AccessDelete, ByID: &privilege.SelectByID{}},
	}

	got := privilege.Aggregate(grants, privilege.Target{ServiceID: serviceB, ObjectID: objectB})
	assert.Equal(t, privilege.AccessRead|privilege.AccessDelete, got)
}

/*
TestAggregate_ByPath tests glob-scoped grants: every non-empty pattern must
match its path component.
*/
func TestAggregate_ByPath(t *testing.T) {
	grants := []privilege.Privilege{
		{
			Access: privilege.AccessRead | privilege.AccessCreate,
			ByPath: &privilege.SelectByPath{ServicePath: "/api*", ObjectPath: "/items"},
		},
	}

	tests := []struct {
		name   string
		target privilege.Target
		want   privilege.Access
	}{
		{
			"all_patterns_match",
			privilege.Target{ServicePath: "/api_v1", SchemaPath: "/shop", ObjectPath: "/items"},
			privilege.AccessRead | privilege.AccessCreate,
		},
		{
			"object_path_differs",
			privilege.Target{ServicePath: "/api_v1", SchemaPath: "/shop", ObjectPath: "/orders"},
			privilege.AccessNone,
		},
		{
			"service_path_differs",
			privilege.Target{ServicePath: "/internal", SchemaPath: "/shop", ObjectPath: "/items"},
			privilege.AccessNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, privilege.Aggregate(grants, tt.target))
		})
	}
}

/*
TestAggregate_MalformedPattern verifies that an invalid glob pattern fails to
match without poisoning other grants.
*/
func TestAggregate_MalformedPattern(t *testing.T) {
	grants := []privilege.Privilege{
		{Access: privilege.AccessDelete, ByPath: &privilege.SelectByPath{ObjectPath: `bad\`}},
		{Access: privilege.AccessRead},
	}

	got := privilege.Aggregate(grants, privilege.Target{ObjectPath: "bad!"})
	assert.Equal(t, privilege.AccessRead, got)
}

/*
TestAccessForMethod maps HTTP verbs onto the CRUD mask.
*/
func TestAccessForMethod(t *testing.T) {
	tests := []struct {
		method string
		want   privilege.Access
	}{
		{http.MethodGet, privilege.AccessRead},
		{http.MethodPost, privilege.AccessCreate},
		{http.MethodPut, privilege.AccessUpdate},
		{http.MethodPatch, privilege.AccessUpdate},
		{http.MethodDelete, privilege.AccessDelete},
		{"TRACE", privilege.AccessNone},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			assert.Equal(t, tt.want, privilege.AccessForMethod(tt.method))
		})
	}
}

/*
TestAccess_Has checks subset semantics of the mask.
*/
func TestAccess_Has(t *testing.T) {
	combined := privilege.AccessRead | privilege.AccessUpdate

	assert.True(t, combined.Has(privilege.AccessRead))
	assert.True(t, combined.Has(privilege.AccessRead|privilege.AccessUpdate))
	assert.False(t, combined.Has(privilege.AccessDelete))
	assert.True(t, privilege.AccessAll.Has(combined))
}
