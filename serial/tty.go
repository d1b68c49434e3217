package serial

import (
	"fmt"

	tty "github.com/mattn/go-tty"
)

// TTY writes port output to a terminal device such as a pty pair used to
// watch the simulated UART from another terminal.
type TTY struct {
	dev     *tty.TTY
	restore func() error
}

// OpenTTY opens path in raw mode.
func OpenTTY(path string) (*TTY, error) {
	dev, err := tty.OpenDevice(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	restore, err := dev.Raw()
	if err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("raw mode %s: %w", path, err)
	}
	return &TTY{dev: dev, restore: restore}, nil
}

func (t *TTY) Write(p []byte) (int, error) {
	return t.dev.Output().Write(p)
}

// Close restores the terminal mode and closes the device.
func (t *TTY) Close() error {
	if t == nil || t.dev == nil {
		return nil
	}
	if t.restore != nil {
		_ = t.restore()
	}
	return t.dev.Close()
}
