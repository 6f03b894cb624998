// Package gateway is the stateless per-call bridge to remote endpoints over
// SSH and FTP. Every call opens its own connection, bounds the connect and
// authentication phase with a timeout, and tears the connection down before
// returning.
package gateway

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strings"
	"syscall"
	"time"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
	"github.com/obot-platform/fleetdeck/server/internal/logger"
	"github.com/obot-platform/fleetdeck/server/internal/model"
	"github.com/obot-platform/fleetdeck/server/internal/telemetry"
)

// DefaultConnectTimeout bounds dial plus authentication.
const DefaultConnectTimeout = 5 * time.Second

// Target is the address and credential set of one protocol endpoint.
type Target = model.Connection

// Options configures a Client.
type Options struct {
	ConnectTimeout time.Duration
	LocalStoreDir  string
	Logger         *logger.Logger
	Instruments    *telemetry.GatewayInstruments
}

// Client performs remote protocol calls.
type Client struct {
	timeout  time.Duration
	storeDir string
	log      *logger.Logger
	inst     *telemetry.GatewayInstruments

	dialSSH SSHDialer
	dialFTP FTPDialer
}

// Option customizes a Client.
type Option func(*Client)

// WithSSHDialer replaces the SSH transport.
func WithSSHDialer(d SSHDialer) Option {
	return func(c *Client) { c.dialSSH = d }
}

// WithFTPDialer replaces the FTP transport.
func WithFTPDialer(d FTPDialer) Option {
	return func(c *Client) { c.dialFTP = d }
}

// New creates a Client.
func New(opts Options, options ...Option) *Client {
	c := &Client{
		timeout:  opts.ConnectTimeout,
		storeDir: opts.LocalStoreDir,
		log:      opts.Logger,
		inst:     opts.Instruments,
		dialSSH:  DialSSH,
		dialFTP:  DialFTP,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultConnectTimeout
	}
	if c.log == nil {
		c.log = logger.Nop()
	}
	c.log = c.log.Named("gateway")
	for _, o := range options {
		o(c)
	}
	return c
}

// observe wraps one remote call with telemetry and error classification.
func (c *Client) observe(ctx context.Context, protocol, op string, t Target, fn func(ctx context.Context) error) error {
	h, ctx := c.inst.Start(ctx, protocol, op, t.Addr())
	err := classify(protocol+" "+op, fn(ctx))
	c.inst.Finish(h, err)
	if err != nil {
		c.log.Debug("remote call failed", "protocol", protocol, "op", op, "addr", t.Addr(), "error", err)
	}
	return err
}

func validateTarget(op string, t Target) error {
	if t.Host == "" || t.Port <= 0 {
		return apperr.InvalidInput(op, "host and port are required")
	}
	return nil
}

// classify converts transport and protocol errors into the apperr taxonomy,
// keeping the underlying message.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch tpErr.Code {
		case 530:
			return apperr.Connection(op, apperr.ReasonAuthenticationFailed, err)
		case 550:
			return apperr.Wrap(apperr.KindNotFound, op, err)
		}
		return apperr.Connection(op, apperr.ReasonProtocolError, err)
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperr.Connection(op, apperr.ReasonTimeout, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return apperr.Connection(op, apperr.ReasonTimeout, err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return apperr.Connection(op, apperr.ReasonConnectionRefused, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return apperr.Connection(op, apperr.ReasonConnectionRefused, err)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"):
		return apperr.Connection(op, apperr.ReasonAuthenticationFailed, err)
	case strings.Contains(msg, "i/o timeout"):
		return apperr.Connection(op, apperr.ReasonTimeout, err)
	case strings.Contains(msg, "connection refused"):
		return apperr.Connection(op, apperr.ReasonConnectionRefused, err)
	}
	return apperr.Connection(op, apperr.ReasonProtocolError, err)
}
