package iio

import "testing"

//TestChunkSizesSegmentsTwoMebibytes checks that a 2 MiB transfer gets
//segmented into at least two sub-transfers, none larger than the 1 MiB
//URB cap.
func TestChunkSizesSegmentsTwoMebibytes(t *testing.T) {
	sizes := chunkSizes(2 << 20)
	if len(sizes) < 2 {
		t.Fatalf("expected >=2 chunks for a 2 MiB transfer, got %d", len(sizes))
	}
	total := 0
	for _, s := range sizes {
		if s > usbMaxBulkTransfer {
			t.Fatalf("chunk of %d bytes exceeds the %d byte URB cap", s, usbMaxBulkTransfer)
		}
		total += s
	}
	if total != 2<<20 {
		t.Fatalf("chunks summed to %d, want %d", total, 2<<20)
	}
}

func TestChunkSizesUnderCapIsOneChunk(t *testing.T) {
	sizes := chunkSizes(1024)
	if len(sizes) != 1 || sizes[0] != 1024 {
		t.Fatalf("got %v, want a single 1024-byte chunk", sizes)
	}
}

func TestChunkSizesZeroIsEmpty(t *testing.T) {
	if sizes := chunkSizes(0); sizes != nil {
		t.Fatalf("got %v, want nil for a zero-length transfer", sizes)
	}
}

func TestParseBusAddressDefaultsInterfaceToZero(t *testing.T) {
	bus, addr, iface, err := parseBusAddress("1.5")
	if err != nil {
		t.Fatalf("parseBusAddress: %v", err)
	}
	if bus != 1 || addr != 5 || iface != 0 {
		t.Fatalf("got bus=%d addr=%d iface=%d, want 1,5,0", bus, addr, iface)
	}
}

func TestParseBusAddressRejectsMalformed(t *testing.T) {
	if _, _, _, err := parseBusAddress("notanumber"); err == nil {
		t.Fatal("expected an error for a malformed bus.address string")
	}
}
