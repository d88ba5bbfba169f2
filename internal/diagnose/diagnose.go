// Package diagnose probes the portal host after network failures so the logs
// show whether name resolution, TCP reachability or the link itself broke.
package diagnose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/go-ping/ping"
	dnsclient "github.com/miekg/dns"
)

const (
	DefaultResolver = "8.8.8.8:53"
	DefaultTimeout  = 5 * time.Second
	pingCount       = 3
)

// Options configures the probes run against the portal.
type Options struct {
	// Target is the portal URL; its host and port are probed.
	Target   string
	Resolver string
	Ping     bool
	// Privileged selects raw ICMP sockets for ping.
	Privileged bool
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Diagnoser runs DNS, TCP and optional ICMP probes.
type Diagnoser struct {
	host       string
	port       string
	resolver   string
	ping       bool
	privileged bool
	timeout    time.Duration
	logger     *slog.Logger
}

// Report is the outcome of one diagnostic run.
type Report struct {
	Host       string
	Addresses  []string
	DNSErr     error
	DialErr    error
	DialTime   time.Duration
	PacketLoss float64
	AvgRtt     time.Duration
	PingErr    error
	Pinged     bool
}

func New(opts Options) (*Diagnoser, error) {
	u, err := url.Parse(opts.Target)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("diagnose: invalid target %q", opts.Target)
	}
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	d := &Diagnoser{
		host:       u.Hostname(),
		port:       port,
		resolver:   opts.Resolver,
		ping:       opts.Ping,
		privileged: opts.Privileged,
		timeout:    opts.Timeout,
		logger:     opts.Logger,
	}
	if d.resolver == "" {
		d.resolver = DefaultResolver
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "diagnose", "host", d.host)
	return d, nil
}

// Diagnose runs the probes and logs the findings next to cause.
func (d *Diagnoser) Diagnose(ctx context.Context, cause error) {
	rep := d.Run(ctx)
	attrs := []any{"cause", cause, "addresses", rep.Addresses, "dial_ms", rep.DialTime.Milliseconds()}
	if rep.DNSErr != nil {
		attrs = append(attrs, "dns_error", rep.DNSErr)
	}
	if rep.DialErr != nil {
		attrs = append(attrs, "dial_error", rep.DialErr)
	}
	if rep.Pinged {
		attrs = append(attrs, "packet_loss", rep.PacketLoss, "avg_rtt", rep.AvgRtt)
	}
	if rep.PingErr != nil {
		attrs = append(attrs, "ping_error", rep.PingErr)
	}
	d.logger.Warn("network diagnostics", attrs...)
}

// Run performs the probes without logging.
func (d *Diagnoser) Run(ctx context.Context) Report {
	rep := Report{Host: d.host}

	if ip := net.ParseIP(d.host); ip != nil {
		rep.Addresses = []string{ip.String()}
	} else {
		rep.Addresses, rep.DNSErr = d.lookup(ctx)
	}

	dialHost := d.host
	if len(rep.Addresses) > 0 && net.ParseIP(rep.Addresses[0]) != nil {
		dialHost = rep.Addresses[0]
	}
	dialer := &net.Dialer{Timeout: d.timeout}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(dialHost, d.port))
	rep.DialTime = time.Since(start)
	if err != nil {
		rep.DialErr = err
	} else {
		conn.Close()
	}

	if d.ping {
		rep.PacketLoss, rep.AvgRtt, rep.PingErr = d.icmp(ctx)
		rep.Pinged = rep.PingErr == nil
	}
	return rep
}

func (d *Diagnoser) lookup(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	client := &dnsclient.Client{Timeout: d.timeout}
	msg := new(dnsclient.Msg)
	msg.SetQuestion(dnsclient.Fqdn(d.host), dnsclient.TypeA)
	resp, _, err := client.ExchangeContext(ctx, msg, d.resolver)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", d.resolver, err)
	}
	if resp.Rcode != dnsclient.RcodeSuccess {
		return nil, fmt.Errorf("dns error %s", dnsclient.RcodeToString[resp.Rcode])
	}
	var addrs []string
	for _, rr := range resp.Answer {
		switch rec := rr.(type) {
		case *dnsclient.A:
			addrs = append(addrs, rec.A.String())
		case *dnsclient.CNAME:
			addrs = append(addrs, "cname:"+rec.Target)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("no A records")
	}
	return addrs, nil
}

func (d *Diagnoser) icmp(ctx context.Context) (float64, time.Duration, error) {
	pinger, err := ping.NewPinger(d.host)
	if err != nil {
		return 0, 0, fmt.Errorf("init pinger: %w", err)
	}
	pinger.SetPrivileged(d.privileged)
	pinger.Count = pingCount
	pinger.Timeout = d.timeout

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()
	if err := pinger.Run(); err != nil {
		return 0, 0, fmt.Errorf("ping: %w", err)
	}
	stats := pinger.Statistics()
	return stats.PacketLoss, stats.AvgRtt, nil
}
