package httptool

import (
	"fmt"
	"net"
	"net/http"
	"time"
)

// MaxRedirects is the number of redirect hops followed before a request
// fails.
const MaxRedirects = 5

// NewClient returns an http.Client that checks every redirect hop against
// allow and refuses to dial floor addresses. A nil transport gets a clone
// of http.DefaultTransport with a guarded dialer; tests inject their own.
func NewClient(allow *AllowList, transport http.RoundTripper) *http.Client {
	if transport == nil {
		transport = guardedTransport()
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", MaxRedirects)
			}
			return allow.Check(req.URL)
		},
	}
}

func guardedTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   dialGuard,
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = dialer.DialContext
	t.Proxy = nil
	t.MaxIdleConnsPerHost = 16
	return t
}
