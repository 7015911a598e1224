package request_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/aahoughton/cowboy/api"
	"github.com/aahoughton/cowboy/request"
)

func TestMatchQS(t *testing.T) {
	r, _ := newReq(t, "GET /?id=12&tag=a&tag=b&empty= HTTP/1.1\r\nHost: h\r\n\r\n", request.Options{})

	got, err := r.MatchQS(
		request.Key("id", request.Int()),
		request.Key("tag"),
		request.Key("page", request.Int()).Or("first"),
	)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"id":   12,
		"tag":  []any{"a", "b"},
		"page": "first", // defaults skip constraints
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v", got)
	}
}

func TestMatchQSErrors(t *testing.T) {
	r, _ := newReq(t, "GET /?id=x&tag=a&tag=9&empty= HTTP/1.1\r\nHost: h\r\n\r\n", request.Options{})

	cases := []struct {
		name  string
		field request.Field
		want  error
	}{
		{"missing", request.Key("nope"), api.ErrMissingValue},
		{"not int", request.Key("id", request.Int()), api.ErrConstraint},
		{"empty", request.Key("empty", request.NonEmpty()), api.ErrConstraint},
		{"one bad element", request.Key("tag", request.OneOf("a", "b")), api.ErrConstraint},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.MatchQS(tc.field)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			var ae *api.Error
			if !errors.As(err, &ae) || ae.Context["field"] != tc.field.Name {
				t.Errorf("error does not name the field: %v", err)
			}
		})
	}
}

func TestMatchCookies(t *testing.T) {
	r, _ := newReq(t, simpleGet, request.Options{})
	got, err := r.MatchCookies(
		request.Key("theme", request.OneOf("dark", "light")),
		request.Key("lang").Or("en"),
	)
	if err != nil {
		t.Fatal(err)
	}
	if got["theme"] != "dark" || got["lang"] != "en" {
		t.Errorf("got %v", got)
	}
}

func TestMatchFuncConstraint(t *testing.T) {
	r, _ := newReq(t, "GET /?n=5 HTTP/1.1\r\nHost: h\r\n\r\n", request.Options{})
	double := request.Func(func(v any) (any, error) { return v.(int) * 2, nil })
	got, err := r.MatchQS(request.Key("n", request.Int(), double))
	if err != nil {
		t.Fatal(err)
	}
	if got["n"] != 10 {
		t.Errorf("n = %v", got["n"])
	}
}
