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

package negtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExpectFatal(t *testing.T) {
	tests := []struct {
		desc    string
		fn      func(t testing.TB)
		wantMsg string
	}{{
		desc: "FailNow",
		fn: func(t testing.TB) {
			t.FailNow()
		},
		wantMsg: "",
	}, {
		desc: "Fatal",
		fn: func(t testing.TB) {
			t.Fatal("fatal error")
		},
		wantMsg: "fatal error\n",
	}, {
		desc: "Fatalf after logging",
		fn: func(t testing.TB) {
			t.Helper()
			t.Logf("about to fail %d", 1)
			t.Fatalf("fatalf error %d", 42)
		},
		wantMsg: "fatalf error 42",
	}}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if got := ExpectFatal(t, tt.fn); got != tt.wantMsg {
				t.Fatalf("did not get expected message, got: %q, want: %q", got, tt.wantMsg)
			}
		})
	}
}

// outerT records the failures of the negtest helpers themselves.
type outerT struct {
	testing.TB
	fatals []string
	errs   []string
}

func (*outerT) Helper() {}

func (o *outerT) Fatalf(format string, args ...any) {
	o.fatals = append(o.fatals, fmt.Sprintf(format, args...))
}

func (o *outerT) Errorf(format string, args ...any) {
	o.errs = append(o.errs, fmt.Sprintf(format, args...))
}

func TestExpectFatalNoFailure(t *testing.T) {
	o := &outerT{}
	ExpectFatal(o, func(t testing.TB) {})
	if len(o.fatals) != 1 || !strings.Contains(o.fatals[0], "did not fail fatally") {
		t.Fatalf("did not get expected failure, got: %v", o.fatals)
	}
}

func TestExpectFatalPanic(t *testing.T) {
	want := "my panic"
	var got any
	func() {
		defer func() {
			got = recover()
		}()
		ExpectFatal(t, func(t testing.TB) {
			panic(want)
		})
	}()
	if got != want {
		t.Fatalf("did not get expected panic, got: %v, want: %v", got, want)
	}
}

func TestExpectErrors(t *testing.T) {
	tests := []struct {
		desc      string
		fn        func(t testing.TB)
		wantErrs  []string
		wantOuter bool
	}{{
		desc: "two errors",
		fn: func(t testing.TB) {
			t.Errorf("first %d", 1)
			t.Error("second", 2)
		},
		wantErrs: []string{"first 1", "second 2"},
	}, {
		desc:      "no errors",
		fn:        func(t testing.TB) {},
		wantOuter: true,
	}, {
		desc: "fatal failure",
		fn: func(t testing.TB) {
			t.Error("before")
			t.Fatalf("fatal")
		},
		wantErrs:  []string{"before"},
		wantOuter: true,
	}}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			o := &outerT{}
			got := ExpectErrors(o, tt.fn)
			if diff := cmp.Diff(got, tt.wantErrs); diff != "" {
				t.Fatalf("did not get expected errors, diff(-got,+want):\n%s", diff)
			}
			if gotOuter := len(o.errs) != 0; gotOuter != tt.wantOuter {
				t.Fatalf("did not get expected failure of the test, got: %v, want failure? %v", o.errs, tt.wantOuter)
			}
		})
	}
}

func TestExpectErrorSubstring(t *testing.T) {
	ExpectErrorSubstring(t, func(t testing.TB) {
		t.Errorf("route target %s is missing", "target:1:1")
	}, "target:1:1")

	o := &outerT{}
	ExpectErrorSubstring(o, func(t testing.TB) {
		t.Errorf("unrelated")
	}, "target:1:1")
	if len(o.errs) != 1 || !strings.Contains(o.errs[0], `did not raise an error containing "target:1:1"`) {
		t.Fatalf("did not get expected failure, got: %v", o.errs)
	}
}
