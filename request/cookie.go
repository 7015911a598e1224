// File: request/cookie.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package request

import (
	"github.com/valyala/fasthttp"
)

// SameSite values for CookieOpts.
type SameSite int

const (
	SameSiteDefault SameSite = iota
	SameSiteLax
	SameSiteStrict
	SameSiteNone
)

// CookieOpts controls the attributes of a response cookie. MaxAge 0 means a
// session cookie; a negative MaxAge deletes the cookie on the client.
type CookieOpts struct {
	Domain   string
	Path     string
	MaxAge   int
	Secure   bool
	HTTPOnly bool
	SameSite SameSite
}

// SetRespCookie stages a Set-Cookie header. Setting the same name again
// replaces the earlier value.
func (r Req) SetRespCookie(name, value string, opts CookieOpts) Req {
	r.check()
	ck := fasthttp.AcquireCookie()
	defer fasthttp.ReleaseCookie(ck)

	ck.SetKey(name)
	ck.SetValue(value)
	if opts.Domain != "" {
		ck.SetDomain(opts.Domain)
	}
	if opts.Path != "" {
		ck.SetPath(opts.Path)
	}
	switch {
	case opts.MaxAge > 0:
		ck.SetMaxAge(opts.MaxAge)
	case opts.MaxAge < 0:
		ck.SetValue("")
		ck.SetExpire(fasthttp.CookieExpireDelete)
	}
	ck.SetSecure(opts.Secure)
	ck.SetHTTPOnly(opts.HTTPOnly)
	switch opts.SameSite {
	case SameSiteLax:
		ck.SetSameSite(fasthttp.CookieSameSiteLaxMode)
	case SameSiteStrict:
		ck.SetSameSite(fasthttp.CookieSameSiteStrictMode)
	case SameSiteNone:
		ck.SetSameSite(fasthttp.CookieSameSiteNoneMode)
	}

	f := r.resp.clone()
	enc := setCookie{name: name, encoded: ck.String()}
	replaced := false
	for i := range f.cookies {
		if f.cookies[i].name == name {
			f.cookies[i] = enc
			replaced = true
		}
	}
	if !replaced {
		f.cookies = append(f.cookies, enc)
	}
	return r.next(f)
}
