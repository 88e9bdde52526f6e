// Package address builds the URLs used to talk to the reduction service and
// the URL it uses to call back into this bridge.
package address

import (
	"net"
	"net/url"
	"strconv"

	"github.com/okian/swapbridge/internal/auth"
)

// Params is everything the URLs are derived from.
type Params struct {
	RemoteScheme string
	RemoteHost   string
	RemotePort   int
	WorkflowID   int64
	ReducerName  string

	LocalScheme string
	LocalHost   string
	LocalPort   int
	LocalUser   string
	LocalSecret string
}

// Addresses are the three resolved URLs.
type Addresses struct {
	// Root is the workflow resource, used for registration.
	Root string
	// Reduction receives score updates.
	Reduction string
	// Extractor is this bridge's classify endpoint with basic credentials
	// embedded.
	Extractor string
}

// Resolve is pure: the same Params always give the same Addresses.
func Resolve(p Params) Addresses {
	root := url.URL{
		Scheme: orDefault(p.RemoteScheme, "https"),
		Host:   hostPort(p.RemoteHost, p.RemotePort),
		Path:   "/workflows/" + strconv.FormatInt(p.WorkflowID, 10),
	}

	reduction := root
	reduction.Path = root.Path + "/reducers/" + p.ReducerName + "/reductions"

	extractor := url.URL{
		Scheme: orDefault(p.LocalScheme, "https"),
		User:   url.UserPassword(p.LocalUser, auth.NormalizeSecret(p.LocalSecret)),
		Host:   hostPort(p.LocalHost, p.LocalPort),
		Path:   "/classify",
	}

	return Addresses{
		Root:      root.String(),
		Reduction: reduction.String(),
		Extractor: extractor.String(),
	}
}

func hostPort(host string, port int) string {
	if port <= 0 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Redact returns u with any password replaced, for logging. Unparseable
// input is returned unchanged.
func Redact(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	return parsed.Redacted()
}
