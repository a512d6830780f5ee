package iio

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
)

//TransportKind names which transport an Endpoint addresses.
type TransportKind int

const (
	TransportNetwork TransportKind = iota
	TransportUSB
)

/*Endpoint is a fully parsed URI: either a network host[:port] or a USB
bus.address[.interface] triple, decimal, each in 0..255.*/
type Endpoint struct {
	Kind TransportKind

	Host string
	Port string

	Bus, Address uint8
	Interface    int
}

var (
	ipURIRe  = regexp.MustCompile(`^ip:(.*)$`)
	usbURIRe = regexp.MustCompile(`^usb:(.*)$`)
)

/*ParseURI parses the ip:/usb: URI grammars:

	ip:<host>[:port]        - empty host triggers DNS-SD discovery
	usb:<bus>.<address>[.<interface>] - empty body triggers a bus scan

Numbers are decimal, each in 0..255; interface defaults to 0.*/
func ParseURI(uri string) (Endpoint, error) {
	if m := ipURIRe.FindStringSubmatch(uri); m != nil {
		body := m[1]
		if body == "" {
			return Endpoint{Kind: TransportNetwork}, nil
		}
		host, port, err := splitHostPort(body)
		if err != nil {
			return Endpoint{}, err
		}
		return Endpoint{Kind: TransportNetwork, Host: host, Port: port}, nil
	}

	if m := usbURIRe.FindStringSubmatch(uri); m != nil {
		body := m[1]
		if body == "" {
			return Endpoint{Kind: TransportUSB}, nil
		}
		bus, addr, iface, err := parseBusAddress(body)
		if err != nil {
			return Endpoint{}, err
		}
		return Endpoint{Kind: TransportUSB, Bus: bus, Address: addr, Interface: iface}, nil
	}

	return Endpoint{}, newErr(InvalidArgument, "ParseURI", errors.Errorf("unrecognized URI %q", uri))
}

func splitHostPort(body string) (host, port string, err error) {
	if !strings.Contains(body, ":") {
		return body, "", nil
	}
	h, p, splitErr := net.SplitHostPort(body)
	if splitErr != nil {
		return "", "", newErr(InvalidArgument, "splitHostPort", splitErr)
	}
	if p != "" {
		if n, perr := strconv.Atoi(p); perr != nil || n < 0 || n > 65535 {
			return "", "", newErr(InvalidArgument, "splitHostPort", errors.Errorf("bad port %q", p))
		}
	}
	return h, p, nil
}

//ScanResult is one entry returned by ScanUSB/ScanNetwork: a human-readable
//description and the URI a caller can hand to ParseURI.
type ScanResult struct {
	Description string
	URI         string
}

//RenderScanResults renders results as a table, using the same
//tablewriter idiom a String() method typically follows, repointed at
//scan output.
func RenderScanResults(results []ScanResult) string {
	buf := bytes.NewBufferString("")
	tw := tablewriter.NewWriter(buf)
	tw.SetAutoWrapText(false)
	tw.SetHeader([]string{"Description", "URI"})
	for _, r := range results {
		tw.Append([]string{r.Description, r.URI})
	}
	tw.Render()
	return buf.String()
}

const iioServiceName = "_iio._tcp"

/*ScanNetwork performs a DNS-SD lookup via the standard resolver's SRV
lookup, since no DNS-SD/mDNS client library appears anywhere in the
retrieved corpus (see DESIGN.md). It returns every SRV target found;
ExactlyOne applies the exactly-one-responder rule a bare "ip:" URI needs.*/
func ScanNetwork(ctx context.Context, domain string) ([]ScanResult, error) {
	_, srvs, err := net.DefaultResolver.LookupSRV(ctx, "iio", "tcp", domain)
	if err != nil {
		return nil, newErr(NotFound, "ScanNetwork", err)
	}

	results := make([]ScanResult, 0, len(srvs))
	for _, srv := range srvs {
		host := strings.TrimSuffix(srv.Target, ".")
		uri := fmt.Sprintf("ip:%s:%d", host, srv.Port)
		results = append(results, ScanResult{
			Description: host,
			URI:         uri,
		})
	}
	return results, nil
}

//ExactlyOne returns results[0] if len(results)==1, and an error otherwise:
//an empty URI body requires exactly one matching responder to be found.
func ExactlyOne(results []ScanResult) (ScanResult, error) {
	switch len(results) {
	case 0:
		return ScanResult{}, newErr(NotFound, "ExactlyOne", errors.New("no matching responder found"))
	case 1:
		return results[0], nil
	default:
		return ScanResult{}, newErr(InvalidArgument, "ExactlyOne", errors.Errorf("%d matching responders found, need exactly one", len(results)))
	}
}
