// Package activation supports running the webhook server under systemd
// socket activation, with a fallback to a plain TCP listener.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// Systemd passes activated file descriptors starting at fd 3
// (0=stdin, 1=stdout, 2=stderr).
const firstFD = 3

// ListenerOrListen returns the systemd-activated listener when one was
// passed to this process, otherwise it opens a TCP listener on addr. When
// systemd hands over more than one socket, the first is used and the rest
// are closed.
func ListenerOrListen(addr string) (net.Listener, error) {
	listeners, err := activatedListeners()
	if err != nil {
		return nil, err
	}

	if len(listeners) > 0 {
		for _, extra := range listeners[1:] {
			_ = extra.Close()
		}
		return listeners[0], nil
	}

	return net.Listen("tcp", addr)
}

// activatedListeners converts the LISTEN_PID/LISTEN_FDS protocol into
// net.Listeners. It returns nil when no socket activation is detected or
// when the activation targets a different process.
func activatedListeners() ([]net.Listener, error) {
	numFDs, ok, err := activationFDs()
	if err != nil || !ok {
		return nil, err
	}

	listeners := make([]net.Listener, 0, numFDs)
	for i := 0; i < numFDs; i++ {
		fd := firstFD + i
		file := os.NewFile(uintptr(fd), fmt.Sprintf("systemd-socket-%d", i))
		if file == nil {
			return nil, fmt.Errorf("failed to open fd %d", fd)
		}

		listener, err := net.FileListener(file)
		// The listener duplicates the descriptor, so the file is closed
		// either way.
		_ = file.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to create listener from fd %d: %w", fd, err)
		}

		listeners = append(listeners, listener)
	}

	// Unset the environment variables so child processes (the external
	// fetch/build steps) don't inherit them.
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return listeners, nil
}

// activationFDs parses LISTEN_PID and LISTEN_FDS. ok is false when socket
// activation is absent or addressed to another process.
func activationFDs() (numFDs int, ok bool, err error) {
	pidStr := os.Getenv("LISTEN_PID")
	if pidStr == "" {
		return 0, false, nil
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, false, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if pid != os.Getpid() {
		return 0, false, nil
	}

	fdsStr := os.Getenv("LISTEN_FDS")
	if fdsStr == "" {
		return 0, false, nil
	}

	numFDs, err = strconv.Atoi(fdsStr)
	if err != nil {
		return 0, false, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	if numFDs < 1 {
		return 0, false, nil
	}

	return numFDs, true, nil
}
