// File: api/reason_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/aahoughton/cowboy/api"
)

func TestProtectReturnedError(t *testing.T) {
	boom := errors.New("boom")
	err := api.Protect(func() error { return boom })
	var ce *api.CrashError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CrashError, got %T", err)
	}
	if ce.Class != api.ClassError {
		t.Errorf("class = %v, want error", ce.Class)
	}
	if !errors.Is(err, boom) {
		t.Errorf("original error not reachable through %v", err)
	}
}

func TestProtectPanic(t *testing.T) {
	err := api.Protect(func() error { panic("kaput") })
	var ce *api.CrashError
	if !errors.As(err, &ce) || ce.Class != api.ClassPanic {
		t.Fatalf("expected panic crash, got %v", err)
	}
	if !strings.Contains(ce.Err.Error(), "kaput") {
		t.Errorf("panic value lost: %v", ce.Err)
	}
	if len(ce.Stack) == 0 {
		t.Error("stack not captured")
	}
}

func TestProtectPanicWithError(t *testing.T) {
	stale := api.WrapError(api.ErrCodeInvalidArgument, "req", api.ErrStaleRequest)
	err := api.Protect(func() error { panic(stale) })
	if !errors.Is(err, api.ErrStaleRequest) {
		t.Fatalf("sentinel lost through panic: %v", err)
	}
}

func TestProtectNil(t *testing.T) {
	if err := api.Protect(func() error { return nil }); err != nil {
		t.Fatalf("unexpected %v", err)
	}
}

func TestCrashedKeepsClass(t *testing.T) {
	err := api.Protect(func() error { panic("x") })
	r := api.Crashed(err)
	if !r.IsCrash() || r.Crash.Class != api.ClassPanic {
		t.Fatalf("reason = %v", r)
	}
	r = api.Crashed(errors.New("plain"))
	if r.Crash.Class != api.ClassError {
		t.Errorf("plain error classed as %v", r.Crash.Class)
	}
}

func TestReasonString(t *testing.T) {
	cases := []struct {
		r    api.Reason
		want string
	}{
		{api.Normal(api.CauseDone), "normal: done"},
		{api.Reason{Kind: api.ReasonNormal, Cause: api.CauseRemote, Code: 1001}, "normal: remote (1001)"},
		{api.Normal(api.CauseTimeout), "normal: timeout"},
	}
	for _, c := range cases {
		if got := c.r.String(); got != c.want {
			t.Errorf("%v: got %q, want %q", c.r.Cause, got, c.want)
		}
	}
}

func TestErrorContext(t *testing.T) {
	err := api.WrapError(api.ErrCodeMissing, "field", api.ErrMissingValue).WithContext("name", "id")
	if !errors.Is(err, api.ErrMissingValue) {
		t.Fatal("sentinel not wrapped")
	}
	if !strings.Contains(err.Error(), "name:id") {
		t.Errorf("context missing from %q", err.Error())
	}
}
