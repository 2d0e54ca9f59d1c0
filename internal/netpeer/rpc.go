package netpeer

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"

	"liftfleet/internal/order"
)

const alpn = "liftfleet-rpc"

// Handler is implemented by whatever local actor should answer an incoming
// RPC: the Order Server answers EvaluateCost, NewOrder, and OrderComplete;
// the Watchdog answers WatchdogNewOrder and WatchdogComplete. The latter two
// pairs carry the completion broadcast the spec's Order Server requires
// (§4.2's "broadcast a completed notice and a WatchdogComplete to every
// peer") over the same transport as the three named auction RPCs.
type Handler interface {
	EvaluateCost(o order.Order) (cost int, completed bool, err error)
	NewOrder(o order.Order) error
	WatchdogNewOrder(o order.Order) error
	OrderComplete(o order.Order) error
	WatchdogComplete(o order.Order) error
}

type rpcRequest struct {
	Method string
	Order  order.Order
}

type rpcResponse struct {
	Cost      int
	Completed bool
	Err       string
}

func selfSignedTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("rsa key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, fmt.Errorf("serial: %w", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create cert: %w", err)
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpn},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

func clientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true, // LAN-local cluster; the discovery cookie is the trust boundary, not the cert chain
		NextProtos:         []string{alpn},
		MinVersion:         tls.VersionTLS13,
	}
}

// RPCServer answers evaluate_cost / new_order / watchdog_new_order /
// order_complete / watchdog_complete over QUIC streams, one JSON
// request/response pair per stream.
type RPCServer struct {
	handler Handler
	log     *log.Logger
}

func NewRPCServer(handler Handler, logger *log.Logger) *RPCServer {
	return &RPCServer{handler: handler, log: logger}
}

// Serve listens on addr until ctx is cancelled.
func (s *RPCServer) Serve(ctx context.Context, addr string) error {
	tlsConf, err := selfSignedTLSConfig()
	if err != nil {
		return err
	}
	ln, err := quic.ListenAddr(addr, tlsConf, nil)
	if err != nil {
		return fmt.Errorf("netpeer: quic listen on %s: %w", addr, err)
	}
	defer ln.Close()

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Printf("netpeer: accept error: %v", err)
			continue
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *RPCServer) serveConn(ctx context.Context, conn quic.Connection) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go s.serveStream(stream)
	}
}

func (s *RPCServer) serveStream(stream quic.Stream) {
	defer stream.Close()

	var req rpcRequest
	if err := json.NewDecoder(stream).Decode(&req); err != nil {
		s.log.Printf("netpeer: decode request: %v", err)
		return
	}

	var resp rpcResponse
	var err error
	switch req.Method {
	case "evaluate_cost":
		resp.Cost, resp.Completed, err = s.handler.EvaluateCost(req.Order)
	case "new_order":
		err = s.handler.NewOrder(req.Order)
	case "watchdog_new_order":
		err = s.handler.WatchdogNewOrder(req.Order)
	case "order_complete":
		err = s.handler.OrderComplete(req.Order)
	case "watchdog_complete":
		err = s.handler.WatchdogComplete(req.Order)
	default:
		err = fmt.Errorf("netpeer: unknown method %q", req.Method)
	}
	if err != nil {
		resp.Err = err.Error()
	}

	if encErr := json.NewEncoder(stream).Encode(resp); encErr != nil {
		s.log.Printf("netpeer: encode response: %v", encErr)
	}
}

// RPCClient dials peers to issue the three named auction RPCs and the two
// completion RPCs, each individually deadlined by the caller's context (the
// spec's 1 s bound).
type RPCClient struct {
	mu    sync.Mutex
	conns map[string]quic.Connection
}

func NewRPCClient() *RPCClient {
	return &RPCClient{conns: make(map[string]quic.Connection)}
}

func (c *RPCClient) connFor(ctx context.Context, addr string) (quic.Connection, error) {
	c.mu.Lock()
	if conn, ok := c.conns[addr]; ok {
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	conn, err := quic.DialAddr(ctx, addr, clientTLSConfig(), nil)
	if err != nil {
		return nil, fmt.Errorf("netpeer: dial %s: %w", addr, err)
	}

	c.mu.Lock()
	c.conns[addr] = conn
	c.mu.Unlock()
	return conn, nil
}

func (c *RPCClient) forget(addr string) {
	c.mu.Lock()
	delete(c.conns, addr)
	c.mu.Unlock()
}

func (c *RPCClient) call(ctx context.Context, addr string, req rpcRequest) (rpcResponse, error) {
	conn, err := c.connFor(ctx, addr)
	if err != nil {
		return rpcResponse{}, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		c.forget(addr)
		return rpcResponse{}, fmt.Errorf("netpeer: open stream to %s: %w", addr, err)
	}

	if err := json.NewEncoder(stream).Encode(req); err != nil {
		return rpcResponse{}, fmt.Errorf("netpeer: encode request to %s: %w", addr, err)
	}
	stream.Close() // half-close: signal end of request, response still readable

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetReadDeadline(deadline)
	}

	var resp rpcResponse
	if err := json.NewDecoder(stream).Decode(&resp); err != nil {
		return rpcResponse{}, fmt.Errorf("netpeer: decode response from %s: %w", addr, err)
	}
	if resp.Err != "" {
		return resp, fmt.Errorf("netpeer: remote error from %s: %s", addr, resp.Err)
	}
	return resp, nil
}

// EvaluateCost calls the evaluate_cost RPC on addr.
func (c *RPCClient) EvaluateCost(ctx context.Context, addr string, o order.Order) (cost int, completed bool, err error) {
	resp, err := c.call(ctx, addr, rpcRequest{Method: "evaluate_cost", Order: o})
	if err != nil {
		return 0, false, err
	}
	return resp.Cost, resp.Completed, nil
}

// NewOrder calls the new_order RPC on addr.
func (c *RPCClient) NewOrder(ctx context.Context, addr string, o order.Order) error {
	_, err := c.call(ctx, addr, rpcRequest{Method: "new_order", Order: o})
	return err
}

// WatchdogNewOrder calls the watchdog_new_order RPC on addr.
func (c *RPCClient) WatchdogNewOrder(ctx context.Context, addr string, o order.Order) error {
	_, err := c.call(ctx, addr, rpcRequest{Method: "watchdog_new_order", Order: o})
	return err
}

// OrderComplete calls the order_complete RPC on addr, extinguishing that
// peer's view of the order (queue entry and hall lamp).
func (c *RPCClient) OrderComplete(ctx context.Context, addr string, o order.Order) error {
	_, err := c.call(ctx, addr, rpcRequest{Method: "order_complete", Order: o})
	return err
}

// WatchdogComplete calls the watchdog_complete RPC on addr, disarming that
// peer's deadline timer for the order if it is holding one.
func (c *RPCClient) WatchdogComplete(ctx context.Context, addr string, o order.Order) error {
	_, err := c.call(ctx, addr, rpcRequest{Method: "watchdog_complete", Order: o})
	return err
}
