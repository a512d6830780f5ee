package iio

import "testing"

func newTestPool(n int) *endpointPool {
	couples := make([]epCouple, n)
	for i := range couples {
		couples[i] = epCouple{inAddr: uint8(0x80 + i), outAddr: uint8(i), pipeID: uint16(i)}
	}
	return newEndpointPool(couples)
}

func TestEndpointPoolNeverHandsOutCoupleZero(t *testing.T) {
	pool := newTestPool(3)
	for i := 0; i < 2; i++ {
		c, err := pool.acquire(1)
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		if c.index == 0 {
			t.Fatal("acquire handed out couple 0, which must stay reserved for the control pipe")
		}
	}
}

func TestEndpointPoolBusyWhenExhausted(t *testing.T) {
	pool := newTestPool(2) // couple 0 reserved, couple 1 is the only one acquirable
	c1, err := pool.acquire(1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	_, err = pool.acquire(2)
	if err == nil {
		t.Fatal("expected Busy once the pool is exhausted")
	}
	if classify(err) != Busy {
		t.Fatalf("expected Busy, got %v", classify(err))
	}
	if err := c1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

//TestTwoDevicesConcurrentAcquireRelease covers two devices concurrently
//reserving and releasing couples.
func TestTwoDevicesConcurrentAcquireRelease(t *testing.T) {
	pool := newTestPool(3)

	couldA, err := pool.acquire(0xA)
	if err != nil {
		t.Fatalf("acquire A: %v", err)
	}
	couldB, err := pool.acquire(0xB)
	if err != nil {
		t.Fatalf("acquire B: %v", err)
	}
	if couldA.index == couldB.index {
		t.Fatal("devices A and B were handed the same couple")
	}
	if couldA.index == 0 || couldB.index == 0 {
		t.Fatal("couple 0 must never be reassigned to a device")
	}

	releasedIndex := couldA.index
	if err := couldA.Close(); err != nil {
		t.Fatalf("close A: %v", err)
	}
	// closing twice must be a no-op, not a double-release
	if err := couldA.Close(); err != nil {
		t.Fatalf("second close A: %v", err)
	}

	couldC, err := pool.acquire(0xC)
	if err != nil {
		t.Fatalf("acquire C after release: %v", err)
	}
	if couldC.index != releasedIndex {
		t.Fatalf("expected released couple %d to be reused, got %d", releasedIndex, couldC.index)
	}
	if couldC.index == 0 {
		t.Fatal("couple 0 must never be reassigned to a device")
	}

	couldB.Close()
	couldC.Close()
}

func TestCoupleReportsItsOwnEndpointsAndPipeID(t *testing.T) {
	pool := newTestPool(2)
	c, err := pool.acquire(1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer c.Close()

	in, out := c.endpoints()
	if in != 0x81 || out != 1 {
		t.Fatalf("got endpoints %#x/%#x, want 0x81/0x01", in, out)
	}
	if c.PipeID() != 1 {
		t.Fatalf("got pipe_id %d, want 1", c.PipeID())
	}
}
