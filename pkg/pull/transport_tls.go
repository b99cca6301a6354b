package pull

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/docker/go-connections/tlsconfig"
)

// newTLSTransport builds an *http.Transport whose TLS verification follows
// tlsVerify (spec §4.G: "TLS-verified unless the caller explicitly disables
// verification"), and whose connections enforce the 30s read-idle timeout
// from spec §5 by resetting a read deadline on every Read.
func newTLSTransport(tlsVerify bool) *http.Transport {
	opts := tlsconfig.Options{InsecureSkipVerify: !tlsVerify}
	cfg, err := tlsconfig.Client(opts)
	if err != nil {
		cfg = &tls.Config{InsecureSkipVerify: !tlsVerify} //nolint:gosec // explicit user opt-out, mirrored from tlsconfig failure path
	}

	dialer := &net.Dialer{Timeout: 30 * time.Second}
	t := &http.Transport{
		TLSClientConfig: cfg,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &deadlineConn{Conn: conn, timeout: idleTimeout}, nil
		},
	}
	return t
}

// deadlineConn resets a read/write deadline on every I/O call, implementing
// an idle timeout (as opposed to a total-request timeout, which would break
// large blob transfers) on top of net.Conn.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.Conn.Write(b)
}
