// Package waiter implements the single-waiter multiplexer: one epoll
// instance covering every active trigger-mode device fd plus a
// self-pipe used to interrupt an in-flight wait from the control
// plane. The design mirrors periph.io/x/host/v3/sysfs's eventsListener
// (a registered wakeup pipe, add/remove under a mutex), except that the
// epoll instance is created eagerly in New, and it is built directly
// on golang.org/x/sys/unix, the same
// dependency the teacher repo already uses for ioctls and inotify in
// cmd/controller.
package waiter

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"iiomux.dev/catalog"
)

// Waiter multiplexes readability across a set of file descriptors. Fds
// are registered with an integer tag (a device id, or
// catalog.InvalidDevNum for the wakeup pipe) that Wait reports back
// instead of the raw fd.
type Waiter struct {
	mu      sync.Mutex
	epollFD int
	tags    map[int32]int

	wakeR, wakeW int
}

// New creates an epoll instance and registers its self-pipe.
func New() (*Waiter, error) {
	epollFD, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("waiter: epoll_create1: %w", err)
	}
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(epollFD)
		return nil, fmt.Errorf("waiter: pipe2: %w", err)
	}
	w := &Waiter{
		epollFD: epollFD,
		tags:    map[int32]int{},
		wakeR:   fds[0],
		wakeW:   fds[1],
	}
	if err := w.epollAdd(w.wakeR); err != nil {
		unix.Close(w.wakeR)
		unix.Close(w.wakeW)
		unix.Close(epollFD)
		return nil, err
	}
	w.tags[int32(w.wakeR)] = catalog.InvalidDevNum
	return w, nil
}

func (w *Waiter) epollAdd(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	return unix.EpollCtl(w.epollFD, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Register starts watching fd for readability, reported back under
// tag (normally a device id) on future Wait calls.
func (w *Waiter) Register(fd int, tag int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.epollAdd(fd); err != nil {
		return fmt.Errorf("waiter: register fd %d: %w", fd, err)
	}
	w.tags[int32(fd)] = tag
	return nil
}

// Unregister stops watching fd. Safe to call even if fd was never
// registered.
func (w *Waiter) Unregister(fd int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.tags, int32(fd))
	if err := unix.EpollCtl(w.epollFD, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("waiter: unregister fd %d: %w", fd, err)
	}
	return nil
}

// Wake interrupts an in-flight Wait. Safe to call from any goroutine;
// this is the module's only cross-thread synchronization primitive.
func (w *Waiter) Wake() error {
	var b [1]byte
	_, err := unix.Write(w.wakeW, b[:])
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("waiter: wake: %w", err)
	}
	return nil
}

// DrainWakeup consumes pending wakeup bytes. Called by the dispatch
// loop after observing the wakeup tag in a Wait result.
func (w *Waiter) DrainWakeup() {
	var buf [64]byte
	for {
		n, err := unix.Read(w.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Wait blocks until at least one registered fd is readable or
// timeoutMS elapses (-1 waits forever, 0 polls without blocking). It
// returns the tags of every fd that became readable, deduplicated.
func (w *Waiter) Wait(timeoutMS int) ([]int, error) {
	w.mu.Lock()
	n := len(w.tags)
	w.mu.Unlock()
	if n == 0 {
		return nil, errors.New("waiter: no fds registered")
	}
	events := make([]unix.EpollEvent, n)
	count, err := unix.EpollWait(w.epollFD, events, timeoutMS)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("waiter: epoll_wait: %w", err)
	}
	if count == 0 {
		return nil, nil
	}
	seen := make(map[int]bool, count)
	var tags []int
	w.mu.Lock()
	for _, ev := range events[:count] {
		tag, ok := w.tags[ev.Fd]
		if !ok {
			// Raced with Unregister; ignore.
			continue
		}
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	w.mu.Unlock()
	return tags, nil
}

// Close releases the epoll instance and the wakeup pipe. The waiter
// must not be used afterwards.
func (w *Waiter) Close() error {
	unix.Close(w.wakeR)
	unix.Close(w.wakeW)
	return unix.Close(w.epollFD)
}
