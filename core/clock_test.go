package core

import (
	"testing"
	"time"
)

func TestSoftwareClockAdvances(t *testing.T) {
	c := NewSoftwareClock(time.Millisecond).(*softwareClock)
	start := c.Now()
	time.Sleep(5 * time.Millisecond)
	if !TickBefore(start, c.Now()) {
		t.Fatalf("expected clock to advance past %d, got %d", start, c.Now())
	}
}

func TestSoftwareClockSyntheticOverride(t *testing.T) {
	c := NewSoftwareClock(time.Second).(*softwareClock)
	c.SetSyntheticTick(1000)
	if got := c.Now(); got != 1000 {
		t.Fatalf("expected synthetic tick 1000, got %d", got)
	}
	time.Sleep(2 * time.Millisecond)
	if got := c.Now(); got != 1000 {
		t.Fatalf("synthetic tick should be frozen, got %d", got)
	}
}

func TestWaitUntilResolvesOnTick(t *testing.T) {
	c := NewSoftwareClock(100 * time.Microsecond)
	target := c.Now() + 20

	select {
	case <-c.WaitUntil(target, nil):
	case <-time.After(time.Second):
		t.Fatal("WaitUntil did not resolve")
	}
	if TickBefore(c.Now(), target) {
		t.Fatalf("woke before target: now=%d target=%d", c.Now(), target)
	}
}

func TestWaitUntilCancels(t *testing.T) {
	c := NewSoftwareClock(time.Hour)
	cancel := make(chan struct{})
	done := make(chan struct{})
	go func() {
		<-c.WaitUntil(c.Now()+1, cancel)
		close(done)
	}()
	close(cancel)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitUntil did not honor cancel")
	}
}

func TestTickBeforeAfterWrap(t *testing.T) {
	var a Tick = 0xFFFFFFF0
	var b Tick = 0x00000010
	if !TickBefore(a, b) {
		t.Fatal("expected a before b across wraparound")
	}
	if !TickAfter(b, a) {
		t.Fatal("expected b after a across wraparound")
	}
}
