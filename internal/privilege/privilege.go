// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package privilege implements CRUD access aggregation for REST objects.

A user carries a flat list of privilege grants. Each grant holds a CRUD bitmask
and an optional selector restricting where the grant applies: either concrete
ids (service, schema, object) or glob patterns over the request path triple.
The evaluator unions the masks of every grant that applies to a target.

# Matching Semantics

Id selectors match on ANY set component: a grant scoped to a service also
applies to every schema and object below it, and a partially filled selector
applies wherever any of its components matches. A selector with no components
set is a global grant. Path selectors match when every non-empty pattern
matches its corresponding path component.
*/
package privilege

import (
	"net/http"

	"github.com/taibuivan/restgate/pkg/glob"
	"github.com/taibuivan/restgate/pkg/universalid"
)

// # Access Mask

// Access is a bitmask of CRUD operations.
type Access uint8

const (
	AccessCreate Access = 1 << 0
	AccessRead   Access = 1 << 1
	AccessUpdate Access = 1 << 2
	AccessDelete Access = 1 << 3

	// AccessNone is the empty mask.
	AccessNone Access = 0

	// AccessAll grants every CRUD operation.
	AccessAll = AccessCreate | AccessRead | AccessUpdate | AccessDelete
)

// Has reports whether every bit of the required mask is present.
func (access Access) Has(required Access) bool {
	return access&required == required
}

// AccessForMethod maps an HTTP method to the CRUD bit it requires.
// Unknown methods map to AccessNone, which no grant satisfies.
func AccessForMethod(method string) Access {
	switch method {
	case http.MethodGet:
		return AccessRead
	case http.MethodPost:
		return AccessCreate
	case http.MethodPut, http.MethodPatch:
		return AccessUpdate
	case http.MethodDelete:
		return AccessDelete
	default:
		return AccessNone
	}
}

// # Grant Selectors

// SelectByID restricts a grant using concrete object identities.
// Zero-valued components are treated as unset.
type SelectByID struct {
	ServiceID universalid.ID `json:"service_id"`
	SchemaID  universalid.ID `json:"schema_id"`
	ObjectID  universalid.ID `json:"object_id"`
}

// SelectByPath restricts a grant using glob patterns over request paths.
// Empty patterns are treated as unset and always match.
type SelectByPath struct {
	ServicePath string `json:"service_path"`
	SchemaPath  string `json:"schema_path"`
	ObjectPath  string `json:"object_path"`
}

// Privilege is a single grant: a CRUD mask plus at most one selector.
// A grant with neither selector applies everywhere.
type Privilege struct {
	Access Access        `json:"access"`
	ByID   *SelectByID   `json:"by_id,omitempty"`
	ByPath *SelectByPath `json:"by_path,omitempty"`
}

// Target identifies the REST object a request addresses, by id and by path.
type Target struct {
	ServiceID   universalid.ID
	SchemaID    universalid.ID
	ObjectID    universalid.ID
	ServicePath string
	SchemaPath  string
	ObjectPath  string
}

// # Evaluation

// Aggregate unions the access masks of every grant that applies to the
// target. Malformed path patterns simply fail to match; they never abort
// the evaluation of the remaining grants.
func Aggregate(grants []Privilege, target Target) Access {
	var combined Access

	for index := range grants {
		if grants[index].appliesTo(target) {
			combined |= grants[index].Access
		}
	}

	return combined
}

func (grant *Privilege) appliesTo(target Target) bool {
	if grant.ByID != nil {
		return grant.ByID.matches(target)
	}
	if grant.ByPath != nil {
		return grant.ByPath.matches(target)
	}
	// No selector: the grant is global.
	return true
}

func (selector *SelectByID) matches(target Target) bool {

	// 1. A fully unset selector is a global grant.
	if selector.ServiceID.IsZero() && selector.SchemaID.IsZero() && selector.ObjectID.IsZero() {
		return true
	}

	// 2. Any matching component is sufficient.
	if !selector.ServiceID.IsZero() && selector.ServiceID == target.ServiceID {
		return true
	}
	if !selector.SchemaID.IsZero() && selector.SchemaID == target.SchemaID {
		return true
	}
	if !selector.ObjectID.IsZero() && selector.ObjectID == target.ObjectID {
		return true
	}

	return false
}

func (selector *SelectByPath) matches(target Target) bool {
	return globMatches(selector.ServicePath, target.ServicePath) &&
		globMatches(selector.SchemaPath, target.SchemaPath) &&
		globMatches(selector.ObjectPath, target.ObjectPath)
}

func globMatches(pattern, path string) bool {
	if pattern == "" {
		return true
	}
	matched, err := glob.Match(pattern, path)
	if err != nil {
		return false
	}
	return matched
}
