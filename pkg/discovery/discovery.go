// Package discovery resolves a counter-party's reception endpoint.
//
// Resolution is directory-first: the authority's registered-taxpayer
// directory is authoritative when it answers. The DNS fallback serves
// deployments exchanging documents peer to peer, publishing endpoints
// as U-NAPTR records under a shared service domain keyed by the hashed
// tax ID.
package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/miekg/dns"

	"github.com/ithesk/firmadgii/pkg/authority"
	"github.com/ithesk/firmadgii/pkg/ecf"
)

// Common errors
var (
	// ErrInvalidTaxID is returned for an empty counter-party tax ID.
	ErrInvalidTaxID = errors.New("invalid counter-party tax ID")
	// ErrNoRecordsFound is returned when neither the directory nor DNS
	// knows the counter-party.
	ErrNoRecordsFound = errors.New("no endpoint records found for tax ID")
	// ErrServiceNotFound is returned when records exist but none match
	// the reception service.
	ErrServiceNotFound = errors.New("no reception service found in records")
	// ErrInvalidRecord is returned when a NAPTR record has an invalid
	// format.
	ErrInvalidRecord = errors.New("invalid NAPTR record format")
)

// ServiceReception is the U-NAPTR service tag under which reception
// endpoints are published.
const ServiceReception = "ecf:recepcion"

// Endpoint is a resolved counter-party endpoint.
type Endpoint struct {
	TaxID        string `json:"taxId"`
	Name         string `json:"name,omitempty"`
	ReceptionURL string `json:"receptionUrl"`
	AuthURL      string `json:"authenticationUrl,omitempty"`
}

// DirectoryFunc queries the authority directory for a tax ID. Wired to
// the dispatcher's directory operation; nil disables the directory leg.
type DirectoryFunc func(ctx context.Context, taxID string) ([]authority.DirectoryEntry, error)

// Config holds resolver settings.
type Config struct {
	// ServiceDomain is the base domain U-NAPTR records are published
	// under, e.g. "dir.ecf.example.do".
	ServiceDomain string

	// Environment adds a label to the query domain for non-production
	// deployments.
	Environment ecf.Environment

	// DNSServer overrides the system resolver ("ip:port"). Optional.
	DNSServer string
}

// Resolver resolves counter-party endpoints.
type Resolver struct {
	cfg       Config
	directory DirectoryFunc
	dnsClient *dns.Client
	logger    *slog.Logger

	// exchange is swapped in tests to avoid real DNS traffic.
	exchange func(ctx context.Context, msg *dns.Msg, server string) (*dns.Msg, error)
}

// New creates a resolver. Both legs are optional; a resolver with no
// directory function and no service domain always reports not found.
func New(cfg Config, directory DirectoryFunc, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		cfg:       cfg,
		directory: directory,
		dnsClient: new(dns.Client),
		logger:    logger,
	}
	r.exchange = func(ctx context.Context, msg *dns.Msg, server string) (*dns.Msg, error) {
		resp, _, err := r.dnsClient.ExchangeContext(ctx, msg, server)
		return resp, err
	}
	return r
}

// Resolve finds the reception endpoint for a counter-party tax ID,
// directory first, DNS second.
func (r *Resolver) Resolve(ctx context.Context, taxID string) (*Endpoint, error) {
	if taxID == "" {
		return nil, ErrInvalidTaxID
	}

	if r.directory != nil {
		entries, err := r.directory(ctx, taxID)
		if err != nil {
			r.logger.Warn("directory lookup failed, falling back to DNS", "tax_id", taxID, "error", err)
		} else if len(entries) > 0 {
			e := entries[0]
			return &Endpoint{
				TaxID:        e.TaxID,
				Name:         e.Name,
				ReceptionURL: e.ReceptionURL,
				AuthURL:      e.AuthenticationURL,
			}, nil
		}
	}

	if r.cfg.ServiceDomain == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoRecordsFound, taxID)
	}

	receptionURL, err := r.lookupNAPTR(ctx, r.queryDomain(taxID))
	if err != nil {
		return nil, err
	}
	return &Endpoint{TaxID: taxID, ReceptionURL: receptionURL}, nil
}

// queryDomain builds the DNS name for a tax ID: the BASE32-encoded
// SHA-256 of the ID, padding stripped, under the service domain with
// an environment label for non-production.
func (r *Resolver) queryDomain(taxID string) string {
	hash := sha256.Sum256([]byte(taxID))
	hashed := strings.TrimRight(base32.StdEncoding.EncodeToString(hash[:]), "=")

	if r.cfg.Environment == "" || r.cfg.Environment == ecf.EnvProd {
		return fmt.Sprintf("%s.%s", hashed, r.cfg.ServiceDomain)
	}
	return fmt.Sprintf("%s.%s.%s", hashed, string(r.cfg.Environment), r.cfg.ServiceDomain)
}

// lookupNAPTR performs the DNS U-NAPTR lookup and extracts the
// reception URL.
func (r *Resolver) lookupNAPTR(ctx context.Context, queryDomain string) (string, error) {
	server := r.cfg.DNSServer
	if server == "" {
		conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return "", fmt.Errorf("reading DNS config: %w", err)
		}
		if len(conf.Servers) == 0 {
			return "", errors.New("no DNS servers configured")
		}
		server = conf.Servers[0] + ":" + conf.Port
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(queryDomain), dns.TypeNAPTR)
	msg.RecursionDesired = true

	resp, err := r.exchange(ctx, msg, server)
	if err != nil {
		return "", fmt.Errorf("DNS lookup failed for %s: %w", queryDomain, err)
	}
	if resp.Rcode == dns.RcodeNameError {
		return "", fmt.Errorf("%w: %s", ErrNoRecordsFound, queryDomain)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("DNS lookup failed for %s: rcode=%d", queryDomain, resp.Rcode)
	}

	var records []*dns.NAPTR
	for _, rr := range resp.Answer {
		if naptr, ok := rr.(*dns.NAPTR); ok {
			records = append(records, naptr)
		}
	}
	if len(records) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoRecordsFound, queryDomain)
	}

	return selectReceptionRecord(records)
}

// selectReceptionRecord picks the best U-NAPTR record for the
// reception service by order then preference.
func selectReceptionRecord(records []*dns.NAPTR) (string, error) {
	var best *dns.NAPTR
	bestPriority := 0xFFFF + 1

	for _, record := range records {
		if strings.ToUpper(record.Flags) != "U" {
			continue
		}
		if !strings.EqualFold(record.Service, ServiceReception) {
			continue
		}
		priority := int(record.Order)*1000 + int(record.Preference)
		if best == nil || priority < bestPriority {
			best = record
			bestPriority = priority
		}
	}

	if best == nil {
		return "", ErrServiceNotFound
	}
	return urlFromRegexp(best.Regexp)
}

// urlFromRegexp extracts the endpoint URL from a NAPTR regexp field of
// the form "!<pattern>!<replacement>!".
func urlFromRegexp(regexpField string) (string, error) {
	parts := strings.Split(regexpField, "!")
	if len(parts) < 3 || parts[2] == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecord, regexpField)
	}

	parsed, err := url.Parse(parts[2])
	if err != nil {
		return "", fmt.Errorf("invalid URL in NAPTR record: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return "", fmt.Errorf("invalid URL scheme in NAPTR record: %s", parsed.Scheme)
	}
	return parts[2], nil
}
