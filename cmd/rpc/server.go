package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/alecthomas/units"
	"github.com/canopy-network/dbft/controller"
	"github.com/canopy-network/dbft/lib"
	"github.com/rs/cors"
)

const (
	colon = ":"

	SoftwareVersion = "0.1.0"
	ContentType     = "Content-Type"
	ApplicationJSON = "application/json; charset=utf-8"
	localhost       = "localhost"

	shutdownTimeout = 5 * time.Second
)

// Server is the read mostly status API of a dBFT node
type Server struct {
	// the committee served
	node *controller.Node

	// dBFT node configuration
	config lib.Config

	logger lib.LoggerI
}

// NewServer constructs and returns a new dBFT RPC server
func NewServer(node *controller.Node, config lib.Config, logger lib.LoggerI) *Server {
	return &Server{
		node:   node,
		config: config,
		logger: logger.WithPrefix("rpc"),
	}
}

// Start() serves the rpc until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", colon+s.config.RPCPort)
	if err != nil {
		return ErrListen(err)
	}
	return s.Serve(ctx, listener)
}

// Serve() serves the rpc on the listener until the context is cancelled
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Errorf("RPC shutdown failed: %s", err.Error())
		}
	}()
	s.logger.Infof("Starting RPC server at %s", listener.Addr().String())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler() returns the router wrapped in the CORS policy and the request timeout
func (s *Server) Handler() http.Handler {
	// Create CORS policy
	cor := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS", "POST"},
	})

	// Create a default timeout for HTTP requests
	timeout := time.Duration(s.config.TimeoutS) * time.Second
	return cor.Handler(http.TimeoutHandler(createRouter(s), timeout, ErrServerTimeout().Error()))
}

// member() resolves the member named by the request or writes the error
func (s *Server) member(w http.ResponseWriter, index int) (*controller.Controller, bool) {
	c, err := s.node.Controller(index)
	if err != nil {
		write(w, err, http.StatusBadRequest)
		return nil, false
	}
	return c, true
}

// unmarshal reads the request body into ptr, writing a bad request on failure
func unmarshal(w http.ResponseWriter, r *http.Request, ptr interface{}) bool {
	bz, err := io.ReadAll(io.LimitReader(r.Body, int64(units.MB)))
	if err != nil {
		write(w, ErrInvalidParams(err), http.StatusBadRequest)
		return false
	}
	defer func() { _ = r.Body.Close() }()
	if len(bz) == 0 {
		return true
	}
	if err = json.Unmarshal(bz, ptr); err != nil {
		write(w, ErrInvalidParams(err), http.StatusBadRequest)
		return false
	}
	return true
}

// write marshaled payload to w
func write(w http.ResponseWriter, payload interface{}, code int) {
	w.Header().Set(ContentType, ApplicationJSON)
	w.WriteHeader(code)

	// Marshal and indent the payload
	bz, _ := json.MarshalIndent(payload, "", "  ")
	_, _ = w.Write(bz)
}

// handler helpers

// memberParams decodes a member selector and calls back with the member
func (s *Server) memberParams(w http.ResponseWriter, r *http.Request, callback func(c *controller.Controller) (any, lib.ErrorI)) {
	req := new(memberRequest)
	if !unmarshal(w, r, req) {
		return
	}
	s.respond(w, req.Member, callback)
}

// respond resolves the member and writes the callback result
func (s *Server) respond(w http.ResponseWriter, member int, callback func(c *controller.Controller) (any, lib.ErrorI)) {
	c, ok := s.member(w, member)
	if !ok {
		return
	}
	p, err := callback(c)
	if err != nil {
		write(w, err, http.StatusBadRequest)
		return
	}
	write(w, p, http.StatusOK)
}
