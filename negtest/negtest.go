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

// Package negtest provides utilities for writing negative tests of test
// helpers, such as those in the chk package.
package negtest

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"testing"
)

// ExpectFatal fails the test if fn does _not_ fail fatally, i.e. does not call
// any of t.{FailNow, Fatal, Fatalf}. If it does fail fatally, the fatal error
// message it logged is returned. The message should be checked to distinguish
// the expected failure from unrelated failures.
func ExpectFatal(t testing.TB, fn func(t testing.TB)) (msg string) {
	t.Helper()
	defer func() {
		switch r := recover().(type) {
		case fatal:
			msg = string(r)
		case nil:
		default:
			panic(r)
		}
	}()
	fn(&recorder{realT: t})
	t.Fatalf("%s did not fail fatally as expected", funcName(fn))
	return ""
}

// ExpectErrors runs fn and returns the messages of the non-fatal errors that
// it raised, in order. The test fails if fn raised no errors, or failed
// fatally.
func ExpectErrors(t testing.TB, fn func(t testing.TB)) []string {
	t.Helper()
	r := &recorder{realT: t}
	var fatalMsg string
	func() {
		defer func() {
			switch v := recover().(type) {
			case fatal:
				fatalMsg = string(v)
			case nil:
			default:
				panic(v)
			}
		}()
		fn(r)
	}()
	switch {
	case fatalMsg != "":
		t.Errorf("%s failed fatally, got: %s", funcName(fn), fatalMsg)
	case len(r.errs) == 0:
		t.Errorf("%s did not raise an error as expected", funcName(fn))
	}
	return r.errs
}

// ExpectErrorSubstring checks that fn raises at least one error containing
// want.
func ExpectErrorSubstring(t testing.TB, fn func(t testing.TB), want string) {
	t.Helper()
	errs := ExpectErrors(t, fn)
	for _, e := range errs {
		if strings.Contains(e, want) {
			return
		}
	}
	if len(errs) != 0 {
		t.Errorf("%s did not raise an error containing %q, got: %q", funcName(fn), want, errs)
	}
}

func funcName(i any) string {
	return runtime.FuncForPC(reflect.ValueOf(i).Pointer()).Name()
}

// recorder is a testing.TB implementation that records the failures raised
// by a helper under test rather than reporting them.
type recorder struct {
	// Any methods not explicitly implemented here will panic when called.
	testing.TB
	realT testing.TB
	// errs are the messages passed to Error or Errorf.
	errs []string
}

// fatal is a unique type to distinguish test failures from other panics.
type fatal string

// FailNow implements testing.TB.
func (r *recorder) FailNow() {
	panic(fatal(""))
}

// Fatal implements testing.TB.
func (r *recorder) Fatal(args ...any) {
	panic(fatal(fmt.Sprintln(args...)))
}

// Fatalf implements testing.TB.
func (r *recorder) Fatalf(format string, args ...any) {
	panic(fatal(fmt.Sprintf(format, args...)))
}

// Error implements testing.TB, recording the error.
func (r *recorder) Error(args ...any) {
	r.errs = append(r.errs, strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}

// Errorf implements testing.TB, recording the error.
func (r *recorder) Errorf(format string, args ...any) {
	r.errs = append(r.errs, fmt.Sprintf(format, args...))
}

// Log implements testing.TB by delegating to the real test.
func (r *recorder) Log(args ...any) {
	r.realT.Log(args...)
}

// Logf implements testing.TB by delegating to the real test.
func (r *recorder) Logf(format string, args ...any) {
	r.realT.Logf(format, args...)
}

// Helper implements testing.TB as a noop.
func (*recorder) Helper() {}
