package waiter_test

import (
	"testing"

	"golang.org/x/sys/unix"

	"iiomux.dev/catalog"
	"iiomux.dev/waiter"
)

func TestWaitIdleReturnsNoTags(t *testing.T) {
	w, err := waiter.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	tags, err := w.Wait(0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(tags) != 0 {
		t.Errorf("tags = %v, want none", tags)
	}
}

func TestWakeReportsInvalidDevNum(t *testing.T) {
	w, err := waiter.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := w.Wake(); err != nil {
		t.Fatalf("Wake: %v", err)
	}
	tags, err := w.Wait(1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(tags) != 1 || tags[0] != catalog.InvalidDevNum {
		t.Fatalf("tags = %v, want [%d]", tags, catalog.InvalidDevNum)
	}
	w.DrainWakeup()

	// A second Wait with no further Wake should find nothing pending.
	tags, err = w.Wait(0)
	if err != nil {
		t.Fatalf("Wait after drain: %v", err)
	}
	if len(tags) != 0 {
		t.Errorf("tags after drain = %v, want none", tags)
	}
}

func TestMultipleWakesCoalesceToOneTag(t *testing.T) {
	w, err := waiter.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	for i := 0; i < 5; i++ {
		if err := w.Wake(); err != nil {
			t.Fatalf("Wake: %v", err)
		}
	}
	tags, err := w.Wait(1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(tags) != 1 {
		t.Fatalf("tags = %v, want exactly one coalesced wakeup tag", tags)
	}
	w.DrainWakeup()
}

func TestRegisterAndUnregisterDeviceFD(t *testing.T) {
	w, err := waiter.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		t.Fatalf("Pipe2: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	const tag = 3
	if err := w.Register(fds[0], tag); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := unix.Write(fds[1], []byte{1}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	tags, err := w.Wait(1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(tags) != 1 || tags[0] != tag {
		t.Fatalf("tags = %v, want [%d]", tags, tag)
	}

	if err := w.Unregister(fds[0]); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	var buf [1]byte
	unix.Read(fds[0], buf[:])

	tags, err = w.Wait(0)
	if err != nil {
		t.Fatalf("Wait after unregister: %v", err)
	}
	if len(tags) != 0 {
		t.Errorf("tags after unregister = %v, want none", tags)
	}
}

func TestUnregisterUnknownFDIsSafe(t *testing.T) {
	w, err := waiter.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := w.Unregister(999); err == nil {
		t.Fatalf("Unregister(999) = nil, want an error for an fd epoll never saw")
	}
}
