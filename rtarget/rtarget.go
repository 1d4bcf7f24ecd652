// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rtarget implements the BGP route target value that controls the
// redistribution of routes between routing instances, and an ordered set of
// route targets.
package rtarget

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/osrg/gobgp/v3/pkg/packet/bgp"
)

// prefix is the optional prefix used by configuration to identify a route
// target, e.g. target:64512:100.
const prefix = "target:"

var (
	// ErrNotRouteTarget is returned when an extended community that is not
	// a route target is converted to a RouteTarget.
	ErrNotRouteTarget = errors.New("extended community is not a route target")
	// ErrNilCommunity is returned when a nil extended community is supplied.
	ErrNilCommunity = errors.New("nil extended community")
)

// RouteTarget is a route target extended community, stored as the 8 byte
// value that is carried on the wire interpreted as a big-endian integer. The
// integer order of RouteTarget values is the total order used by all sets and
// maps of route targets.
type RouteTarget uint64

// Compare returns -1, 0 or 1 depending on whether a is less than, equal to or
// greater than b.
func Compare(a, b RouteTarget) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Less reports whether a sorts before b.
func Less(a, b RouteTarget) bool {
	return a < b
}

// FromString parses the route target in s. The string may optionally be
// prefixed with "target:", the remainder is of the form admin:assigned where
// admin is a 2 or 4 byte AS number or an IPv4 address.
func FromString(s string) (RouteTarget, error) {
	v := strings.TrimPrefix(s, prefix)

	// Plain 4 byte AS numbers are not recognised by the generic parser,
	// which would otherwise truncate them to 2 bytes.
	if i := strings.LastIndex(v, ":"); i > 0 && !strings.Contains(v[:i], ".") {
		if as, err := strconv.ParseUint(v[:i], 10, 32); err == nil && as > 0xffff {
			la, err := strconv.ParseUint(v[i+1:], 10, 16)
			if err != nil {
				return 0, fmt.Errorf("invalid route target %s, assigned number must be 16 bits with a 4 byte AS, %v", s, err)
			}
			return FromExtendedCommunity(bgp.NewFourOctetAsSpecificExtended(bgp.EC_SUBTYPE_ROUTE_TARGET, uint32(as), uint16(la), true))
		}
	}

	ec, err := bgp.ParseRouteTarget(v)
	if err != nil {
		return 0, fmt.Errorf("invalid route target %s, %v", s, err)
	}
	rt, err := FromExtendedCommunity(ec)
	if err != nil {
		return 0, fmt.Errorf("invalid route target %s, %v", s, err)
	}
	return rt, nil
}

// MustFromString parses s as a route target and panics if it is invalid. It
// is intended for use with constants, and in tests.
func MustFromString(s string) RouteTarget {
	rt, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return rt
}

// FromExtendedCommunity returns the RouteTarget carried in the extended
// community ec. An error is returned if ec is not a route target.
func FromExtendedCommunity(ec bgp.ExtendedCommunityInterface) (RouteTarget, error) {
	if ec == nil {
		return 0, ErrNilCommunity
	}
	switch ec.(type) {
	case *bgp.TwoOctetAsSpecificExtended, *bgp.IPv4AddressSpecificExtended, *bgp.FourOctetAsSpecificExtended:
	default:
		return 0, ErrNotRouteTarget
	}
	if _, st := ec.GetTypes(); st != bgp.EC_SUBTYPE_ROUTE_TARGET {
		return 0, ErrNotRouteTarget
	}
	b, err := ec.Serialize()
	if err != nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid extended community length %d", len(b))
	}
	return RouteTarget(binary.BigEndian.Uint64(b)), nil
}

// IsRouteTarget reports whether ec is a route target extended community.
func IsRouteTarget(ec bgp.ExtendedCommunityInterface) bool {
	_, err := FromExtendedCommunity(ec)
	return err == nil
}

// ExtendedCommunity returns r as a gobgp extended community.
func (r RouteTarget) ExtendedCommunity() (bgp.ExtendedCommunityInterface, error) {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(r))
	return bgp.ParseExtended(b)
}

// String returns the configuration form of the route target, e.g.
// target:64512:100.
func (r RouteTarget) String() string {
	ec, err := r.ExtendedCommunity()
	if err != nil {
		return fmt.Sprintf("target:unknown(%#016x)", uint64(r))
	}
	return prefix + ec.String()
}
