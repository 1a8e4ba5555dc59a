package ddns_test

import (
	"context"
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Travis-Britz/ddns/v2"
)

// startDNS serves handler on a local UDP port and returns its address.
func startDNS(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go srv.ActivateAndServe()
	<-started
	t.Cleanup(func() { srv.Shutdown() })
	return pc.LocalAddr().String()
}

func myIPHandler(v4, v6 string) dns.HandlerFunc {
	return func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		hdr := dns.RR_Header{Name: q.Name, Rrtype: q.Qtype, Class: dns.ClassINET, Ttl: 0}
		switch {
		case q.Name != ddns.DefaultDNSName:
			m.Rcode = dns.RcodeNameError
		case q.Qtype == dns.TypeA && v4 != "":
			m.Answer = append(m.Answer, &dns.A{Hdr: hdr, A: net.ParseIP(v4).To4()})
		case q.Qtype == dns.TypeAAAA && v6 != "":
			m.Answer = append(m.Answer, &dns.AAAA{Hdr: hdr, AAAA: net.ParseIP(v6)})
		}
		w.WriteMsg(m)
	}
}

func TestDNSResolver(t *testing.T) {
	addr := startDNS(t, myIPHandler("203.0.113.5", "2001:db8::5"))

	r := ddns.DNSResolver("myip.opendns.com", addr, addr)
	assert.Equal(t, ddns.BothFamilies, r.Families())

	got, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, addrs("203.0.113.5", "2001:db8::5"), got)
}

func TestDNSResolverPartialAnswer(t *testing.T) {
	addr := startDNS(t, myIPHandler("203.0.113.5", ""))

	got, err := ddns.DNSResolver(ddns.DefaultDNSName, addr, addr).Resolve(context.Background())
	require.NoError(t, err, "one family is enough")
	assert.Equal(t, addrs("203.0.113.5", ""), got)
}

func TestDNSResolverSingleFamily(t *testing.T) {
	addr := startDNS(t, myIPHandler("203.0.113.5", "2001:db8::5"))

	r := ddns.DNSResolver(ddns.DefaultDNSName, "", addr)
	assert.Equal(t, ddns.SetOf(ddns.IPv6), r.Families())
	got, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, addrs("", "2001:db8::5"), got)
}

func TestDNSResolverFailure(t *testing.T) {
	addr := startDNS(t, myIPHandler("203.0.113.5", "2001:db8::5"))

	_, err := ddns.DNSResolver("other.example.com", addr, addr).Resolve(context.Background())
	assert.ErrorContains(t, err, "NXDOMAIN")
}
