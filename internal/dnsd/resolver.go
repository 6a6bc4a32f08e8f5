// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dnsd is the DNS data plane: UDP and TCP listeners that consult the
// decision API per query and answer with a sinkhole, NXDOMAIN, or the
// upstream resolver's reply.
package dnsd

import (
	"bytes"
	"net"
	"net/http"
	"strings"

	"github.com/miekg/dns"
	jsoniter "github.com/json-iterator/go"

	"zdns.dev/zdns/internal/config"
	"zdns.dev/zdns/internal/logging"
	"zdns.dev/zdns/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Ray IDs stamped on decisions the resolver made locally because the
// decision API was unreachable.
const (
	rayFailOpen   = "RAY-fail-open"
	rayFailClosed = "RAY-fail-closed"
)

const sinkholeTTL = 30

// decision mirrors the decision API response.
type decision struct {
	Action string  `json:"action"`
	RayID  string  `json:"ray_id"`
	Score  float64 `json:"score"`
}

// Resolver answers DNS queries according to decisions from the control
// plane. It implements dns.Handler and is shared by both listeners.
type Resolver struct {
	cfg    *config.Config
	client *http.Client
}

// NewResolver builds the shared query handler.
func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.ThreatTimeoutDuration()},
	}
}

// ServeDNS handles one query. Never panics into the DNS stack; every
// failure path degrades to a synthesized reply.
func (r *Resolver) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	if len(req.Question) == 0 {
		reply := new(dns.Msg)
		reply.SetReply(req)
		w.WriteMsg(reply)
		return
	}

	q := req.Question[0]
	name := strings.ToLower(strings.TrimSuffix(q.Name, "."))
	qtype := dns.TypeToString[q.Qtype]
	clientIP, _, _ := net.SplitHostPort(w.RemoteAddr().String())

	d := r.classify(name, clientIP, qtype)
	logging.Debug("dnsd: %s %s from %s -> %s (%s)", qtype, name, clientIP, d.Action, d.RayID)

	switch strings.ToUpper(d.Action) {
	case store.ActionBlock:
		w.WriteMsg(r.deniedReply(req, q, r.cfg.BlockMode))
		return
	case store.ActionWarn:
		if r.cfg.WarnMode != "ALLOW" {
			w.WriteMsg(r.deniedReply(req, q, r.cfg.WarnMode))
			return
		}
	}

	w.WriteMsg(r.forward(req))
}

// classify POSTs the query to the decision API. When the API is down the
// configured fail policy answers instead.
func (r *Resolver) classify(name, clientIP, qtype string) decision {
	payload, err := json.Marshal(map[string]string{
		"domain":    name,
		"client_ip": clientIP,
		"qtype":     qtype,
	})
	if err == nil {
		resp, postErr := r.client.Post(r.cfg.ThreatAPI, "application/json", bytes.NewReader(payload))
		if postErr == nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				var d decision
				if decodeErr := json.NewDecoder(resp.Body).Decode(&d); decodeErr == nil {
					return d
				}
			}
		}
	}

	if r.cfg.FailOpen {
		return decision{Action: store.ActionAllow, RayID: rayFailOpen}
	}
	return decision{Action: store.ActionBlock, Score: 1.0, RayID: rayFailClosed}
}

// deniedReply synthesizes the reply for a BLOCK (or non-ALLOW WARN) verdict.
func (r *Resolver) deniedReply(req *dns.Msg, q dns.Question, mode string) *dns.Msg {
	reply := new(dns.Msg)
	reply.SetReply(req)

	if mode == "NXDOMAIN" {
		reply.Rcode = dns.RcodeNameError
		return reply
	}

	// Sinkhole mode: answer A/AAAA with the trap addresses, everything
	// else NOERROR with no answers.
	switch q.Qtype {
	case dns.TypeA:
		reply.Answer = append(reply.Answer, r.sinkholeA(q.Name))
	case dns.TypeAAAA:
		reply.Answer = append(reply.Answer, r.sinkholeAAAA(q.Name))
	case dns.TypeANY:
		reply.Answer = append(reply.Answer, r.sinkholeA(q.Name), r.sinkholeAAAA(q.Name))
	}
	return reply
}

func (r *Resolver) sinkholeA(name string) dns.RR {
	return &dns.A{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: sinkholeTTL},
		A:   net.ParseIP(r.cfg.SinkholeIPv4),
	}
}

func (r *Resolver) sinkholeAAAA(name string) dns.RR {
	return &dns.AAAA{
		Hdr:  dns.RR_Header{Name: name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: sinkholeTTL},
		AAAA: net.ParseIP(r.cfg.SinkholeIPv6),
	}
}

// forward relays the query upstream over UDP and returns the reply
// verbatim, or SERVFAIL when the upstream misbehaves.
func (r *Resolver) forward(req *dns.Msg) *dns.Msg {
	client := &dns.Client{Net: "udp", Timeout: r.cfg.UpstreamTimeoutDuration()}
	reply, _, err := client.Exchange(req, upstreamAddr(r.cfg.Upstream))
	if err != nil || reply == nil {
		logging.Warn("dnsd: upstream %s failed: %v", r.cfg.Upstream, err)
		fail := new(dns.Msg)
		fail.SetReply(req)
		fail.Rcode = dns.RcodeServerFailure
		return fail
	}
	return reply
}

// upstreamAddr normalizes the configured upstream to host:port.
func upstreamAddr(upstream string) string {
	if _, _, err := net.SplitHostPort(upstream); err == nil {
		return upstream
	}
	return net.JoinHostPort(upstream, "53")
}
