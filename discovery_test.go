package iio

import (
	"strings"
	"testing"
)

func TestParseURIBareNetworkTriggersDiscovery(t *testing.T) {
	ep, err := ParseURI("ip:")
	if err != nil {
		t.Fatalf("ParseURI: %v", err)
	}
	if ep.Kind != TransportNetwork || ep.Host != "" {
		t.Fatalf("got %+v, want a bare network endpoint", ep)
	}
}

func TestParseURINetworkHostPort(t *testing.T) {
	ep, err := ParseURI("ip:192.0.2.1:30431")
	if err != nil {
		t.Fatalf("ParseURI: %v", err)
	}
	if ep.Kind != TransportNetwork || ep.Host != "192.0.2.1" || ep.Port != "30431" {
		t.Fatalf("got %+v", ep)
	}
}

func TestParseURINetworkHostNoPort(t *testing.T) {
	ep, err := ParseURI("ip:myhost")
	if err != nil {
		t.Fatalf("ParseURI: %v", err)
	}
	if ep.Host != "myhost" || ep.Port != "" {
		t.Fatalf("got %+v", ep)
	}
}

func TestParseURIBareUSBTriggersScan(t *testing.T) {
	ep, err := ParseURI("usb:")
	if err != nil {
		t.Fatalf("ParseURI: %v", err)
	}
	if ep.Kind != TransportUSB || ep.Bus != 0 || ep.Address != 0 {
		t.Fatalf("got %+v, want a bare USB endpoint", ep)
	}
}

func TestParseURIUSBBusAddress(t *testing.T) {
	ep, err := ParseURI("usb:3.12")
	if err != nil {
		t.Fatalf("ParseURI: %v", err)
	}
	if ep.Kind != TransportUSB || ep.Bus != 3 || ep.Address != 12 || ep.Interface != 0 {
		t.Fatalf("got %+v, want bus=3 addr=12 iface=0", ep)
	}
}

func TestParseURIUSBBusAddressInterface(t *testing.T) {
	ep, err := ParseURI("usb:3.12.1")
	if err != nil {
		t.Fatalf("ParseURI: %v", err)
	}
	if ep.Bus != 3 || ep.Address != 12 || ep.Interface != 1 {
		t.Fatalf("got %+v, want bus=3 addr=12 iface=1", ep)
	}
}

func TestParseURIUSBOutOfRangeIsInvalidArgument(t *testing.T) {
	_, err := ParseURI("usb:256.1")
	if err == nil {
		t.Fatal("expected an error for a bus number above 255")
	}
	if classify(err) != InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", classify(err))
	}
}

func TestParseURIUnrecognizedScheme(t *testing.T) {
	_, err := ParseURI("ftp:foo")
	if err == nil || classify(err) != InvalidArgument {
		t.Fatalf("expected InvalidArgument for an unrecognized scheme, got %v", err)
	}
}

func TestExactlyOneZeroResults(t *testing.T) {
	_, err := ExactlyOne(nil)
	if err == nil || classify(err) != NotFound {
		t.Fatalf("expected NotFound for zero results, got %v", err)
	}
}

func TestExactlyOneSingleResult(t *testing.T) {
	want := ScanResult{Description: "d", URI: "ip:h:1"}
	got, err := ExactlyOne([]ScanResult{want})
	if err != nil {
		t.Fatalf("ExactlyOne: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestExactlyOneAmbiguous(t *testing.T) {
	_, err := ExactlyOne([]ScanResult{{URI: "ip:a:1"}, {URI: "ip:b:1"}})
	if err == nil || classify(err) != InvalidArgument {
		t.Fatalf("expected InvalidArgument for >1 results, got %v", err)
	}
}

func TestRenderScanResultsIncludesEveryRow(t *testing.T) {
	out := RenderScanResults([]ScanResult{
		{Description: "dev one", URI: "ip:10.0.0.1:30431"},
		{Description: "dev two", URI: "usb:1.2"},
	})
	for _, want := range []string{"dev one", "ip:10.0.0.1:30431", "dev two", "usb:1.2"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered table missing %q:\n%s", want, out)
		}
	}
}
