// Package ngrok opens public HTTP tunnels with the ngrok agent SDK.
package ngrok

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"golang.ngrok.com/ngrok"
	"golang.ngrok.com/ngrok/config"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
	"github.com/obot-platform/fleetdeck/server/internal/tunnel"
)

// Opener forwards an ngrok HTTP endpoint to a backend host:port.
type Opener struct {
	authToken string
}

var _ tunnel.Opener = (*Opener)(nil)

// New returns an Opener that authenticates with authToken.
func New(authToken string) *Opener {
	return &Opener{authToken: authToken}
}

// BackendURL is the forwarding target for host:port.
func BackendURL(host string, port int) *url.URL {
	return &url.URL{Scheme: "http", Host: net.JoinHostPort(host, strconv.Itoa(port))}
}

// Open starts forwarding and returns once the public URL is assigned.
func (o *Opener) Open(ctx context.Context, host string, port int) (tunnel.Handle, error) {
	if o.authToken == "" {
		return nil, tunnel.ErrNoAuthToken
	}
	fwd, err := ngrok.ListenAndForward(ctx,
		BackendURL(host, port),
		config.HTTPEndpoint(),
		ngrok.WithAuthtoken(o.authToken),
	)
	if err != nil {
		return nil, apperr.Connection("open tunnel", apperr.ReasonProtocolError, fmt.Errorf("ngrok: %w", err))
	}
	return fwd, nil
}
