package terminal

import (
	"context"
	"io"
	"time"
)

const (
	// EscapeChar is Ctrl+] (0x1D).
	EscapeChar = 0x1D

	// EscapeCount is the number of consecutive escape chars that quit.
	EscapeCount = 2

	// EscapeTimeout is the maximum time between escape key presses.
	EscapeTimeout = 500 * time.Millisecond

	ctrlC = 0x03
)

// Command is a session control typed at the terminal.
type Command int

const (
	CmdNone Command = iota
	CmdStatus
	CmdRestart
	CmdStop
	CmdQuit
)

func (c Command) String() string {
	switch c {
	case CmdStatus:
		return "status"
	case CmdRestart:
		return "restart"
	case CmdStop:
		return "stop"
	case CmdQuit:
		return "quit"
	default:
		return "none"
	}
}

// KeyHelp is printed when key controls are active.
const KeyHelp = "Keys: [i] status  [r] restart  [s] stop  [q] quit  (Ctrl+] Ctrl+] also quits)"

// KeyDecoder turns raw terminal bytes into commands.
type KeyDecoder struct {
	escapes    int
	lastEscape time.Time
	now        func() time.Time
}

// NewKeyDecoder returns a decoder using the wall clock.
func NewKeyDecoder() *KeyDecoder {
	return &KeyDecoder{now: time.Now}
}

// Feed decodes one byte.
func (d *KeyDecoder) Feed(b byte) Command {
	if b == EscapeChar {
		now := d.now()
		if d.escapes > 0 && now.Sub(d.lastEscape) > EscapeTimeout {
			d.escapes = 0
		}
		d.escapes++
		d.lastEscape = now
		if d.escapes >= EscapeCount {
			d.escapes = 0
			return CmdQuit
		}
		return CmdNone
	}
	d.escapes = 0

	switch b {
	case 'i', 'I':
		return CmdStatus
	case 'r', 'R':
		return CmdRestart
	case 's', 'S':
		return CmdStop
	case 'q', 'Q', ctrlC:
		return CmdQuit
	}
	return CmdNone
}

// ReadCommands decodes r until EOF or ctx is done. The channel is closed
// when reading stops. A read blocked on a terminal cannot be interrupted,
// so the reader goroutine may outlive ctx until the next key press.
func ReadCommands(ctx context.Context, r io.Reader) <-chan Command {
	out := make(chan Command)
	go func() {
		defer close(out)
		d := NewKeyDecoder()
		buf := make([]byte, 64)
		for {
			n, err := r.Read(buf)
			for _, b := range buf[:n] {
				cmd := d.Feed(b)
				if cmd == CmdNone {
					continue
				}
				select {
				case out <- cmd:
				case <-ctx.Done():
					return
				}
			}
			if err != nil || ctx.Err() != nil {
				return
			}
		}
	}()
	return out
}
