// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dnsd

import (
	"net"

	"github.com/miekg/dns"

	"zdns.dev/zdns/internal/logging"
)

// Service runs one UDP and one TCP listener on the same address, both
// served by the same Resolver.
type Service struct {
	handler dns.Handler
	servers []*dns.Server
	addr    string
}

// NewService builds the data plane over a shared handler.
func NewService(addr string, handler dns.Handler) *Service {
	return &Service{handler: handler, addr: addr}
}

// Start binds both listeners and serves in the background. Returns after
// the sockets are bound, so port conflicts surface immediately.
func (s *Service) Start() error {
	pc, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		pc.Close()
		return err
	}

	s.servers = []*dns.Server{
		{PacketConn: pc, Addr: pc.LocalAddr().String(), Net: "udp", Handler: s.handler},
		{Listener: lis, Addr: lis.Addr().String(), Net: "tcp", Handler: s.handler},
	}
	for _, srv := range s.servers {
		go func(srv *dns.Server) {
			if err := srv.ActivateAndServe(); err != nil {
				logging.Error("dnsd: %s listener on %s stopped: %v", srv.Net, srv.Addr, err)
			}
		}(srv)
	}
	logging.Info("dnsd: listening on %s (udp+tcp)", s.servers[0].Addr)
	return nil
}

// Addr returns the bound UDP address, useful when the configured port was 0.
func (s *Service) Addr() string {
	if len(s.servers) == 0 {
		return s.addr
	}
	return s.servers[0].Addr
}

// Stop shuts both listeners down.
func (s *Service) Stop() {
	for _, srv := range s.servers {
		if err := srv.Shutdown(); err != nil {
			logging.Warn("dnsd: shutting down %s listener: %v", srv.Net, err)
		}
	}
}
