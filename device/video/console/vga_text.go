package console

import (
	"io"

	"ringzero/kernel"
	"ringzero/kernel/kfmt"
)

const (
	crtcIndexPort = 0x3D4
	crtcDataPort  = 0x3D5

	crtcCursorHigh = 0x0E
	crtcCursorLow  = 0x0F

	tabWidth = 4
)

// VgaTextConsole implements an EGA-compatible text console using VGA mode
// 0x3.
//
// Each character in the console framebuffer is represented using two bytes,
// a byte for the character ASCII code and a byte that encodes the foreground
// and background colors (4 bits for each).
//
// The default settings for the console are:
//   - light gray text (color 7) on black background (color 0).
//   - space as the clear character
type VgaTextConsole struct {
	width  uint32
	height uint32

	fb []uint16

	defaultFg uint8
	defaultBg uint8
	clearChar uint16

	// 0-based cursor position used by Write.
	cursorX uint32
	cursorY uint32
}

// NewVgaTextConsole creates a new vga text console that renders to fb. The
// framebuffer must hold at least columns*rows cells.
func NewVgaTextConsole(columns, rows uint32, fb []uint16) *VgaTextConsole {
	return &VgaTextConsole{
		width:     columns,
		height:    rows,
		fb:        fb,
		clearChar: uint16(' '),
		// light gray text on black background
		defaultFg: 7,
		defaultBg: 0,
	}
}

// Dimensions returns the console width and height in characters.
func (cons *VgaTextConsole) Dimensions() (uint32, uint32) {
	return cons.width, cons.height
}

// DefaultColors returns the default foreground and background colors
// used by this console.
func (cons *VgaTextConsole) DefaultColors() (fg uint8, bg uint8) {
	return cons.defaultFg, cons.defaultBg
}

func attr(fg, bg uint8) uint16 {
	return ((uint16(bg) << 4) | uint16(fg&0x0f)) << 8
}

// Fill sets the contents of the specified rectangular region to the requested
// color. Both x and y coordinates are 1-based.
func (cons *VgaTextConsole) Fill(x, y, width, height uint32, fg, bg uint8) {
	var (
		clr                  = attr(fg, bg) | cons.clearChar
		rowOffset, colOffset uint32
	)

	// clip rectangle
	if x == 0 {
		x = 1
	} else if x >= cons.width {
		x = cons.width
	}

	if y == 0 {
		y = 1
	} else if y >= cons.height {
		y = cons.height
	}

	if x+width-1 > cons.width {
		width = cons.width - x + 1
	}

	if y+height-1 > cons.height {
		height = cons.height - y + 1
	}

	rowOffset = ((y - 1) * cons.width) + (x - 1)
	for ; height > 0; height, rowOffset = height-1, rowOffset+cons.width {
		for colOffset = rowOffset; colOffset < rowOffset+width; colOffset++ {
			cons.fb[colOffset] = clr
		}
	}
}

// Scroll the console contents to the specified direction. The caller
// is responsible for updating (e.g. clear or replace) the contents of
// the region that was scrolled.
func (cons *VgaTextConsole) Scroll(dir ScrollDir, lines uint32) {
	if lines == 0 || lines > cons.height {
		return
	}

	var i uint32
	offset := lines * cons.width

	switch dir {
	case ScrollDirUp:
		for ; i < (cons.height-lines)*cons.width; i++ {
			cons.fb[i] = cons.fb[i+offset]
		}
	case ScrollDirDown:
		for i = cons.height*cons.width - 1; i >= lines*cons.width; i-- {
			cons.fb[i] = cons.fb[i-offset]
		}
	}
}

// PutChar writes a char to the specified location. If fg or bg exceed the
// 16 supported colors, they will be set to their default value. Both x and y
// coordinates are 1-based.
func (cons *VgaTextConsole) PutChar(ch byte, fg, bg uint8, x, y uint32) {
	if x < 1 || x > cons.width || y < 1 || y > cons.height {
		return
	}

	if fg > 15 {
		fg = cons.defaultFg
	}
	if bg > 15 {
		bg = cons.defaultBg
	}

	cons.fb[((y-1)*cons.width)+(x-1)] = attr(fg, bg) | uint16(ch)
}

// Write outputs p at the cursor position using the default colors. The
// console interprets \n, \r, \b and \t and scrolls up when the cursor moves
// past the last row.
func (cons *VgaTextConsole) Write(p []byte) (int, error) {
	for _, ch := range p {
		switch ch {
		case '\n':
			cons.cursorX = 0
			cons.lineFeed()
		case '\r':
			cons.cursorX = 0
		case '\b':
			if cons.cursorX > 0 {
				cons.cursorX--
				cons.PutChar(' ', cons.defaultFg, cons.defaultBg, cons.cursorX+1, cons.cursorY+1)
			}
		case '\t':
			next := (cons.cursorX/tabWidth + 1) * tabWidth
			for cons.cursorX < next && cons.cursorX < cons.width {
				cons.putAtCursor(' ')
			}
		default:
			cons.putAtCursor(ch)
		}
	}

	cons.updateCursor()
	return len(p), nil
}

func (cons *VgaTextConsole) putAtCursor(ch byte) {
	cons.PutChar(ch, cons.defaultFg, cons.defaultBg, cons.cursorX+1, cons.cursorY+1)
	if cons.cursorX++; cons.cursorX == cons.width {
		cons.cursorX = 0
		cons.lineFeed()
	}
}

func (cons *VgaTextConsole) lineFeed() {
	if cons.cursorY+1 < cons.height {
		cons.cursorY++
		return
	}

	cons.Scroll(ScrollDirUp, 1)
	cons.Fill(1, cons.height, cons.width, 1, cons.defaultFg, cons.defaultBg)
}

// Clear blanks the console and moves the cursor to the top-left corner.
func (cons *VgaTextConsole) Clear() {
	cons.Fill(1, 1, cons.width, cons.height, cons.defaultFg, cons.defaultBg)
	cons.cursorX, cons.cursorY = 0, 0
	cons.updateCursor()
}

// Cursor returns the 0-based cursor position.
func (cons *VgaTextConsole) Cursor() (x, y uint32) {
	return cons.cursorX, cons.cursorY
}

func (cons *VgaTextConsole) updateCursor() {
	pos := uint16(cons.cursorY*cons.width + cons.cursorX)
	portWriteByteFn(crtcIndexPort, crtcCursorLow)
	portWriteByteFn(crtcDataPort, uint8(pos))
	portWriteByteFn(crtcIndexPort, crtcCursorHigh)
	portWriteByteFn(crtcDataPort, uint8(pos>>8))
}

// DriverName returns the name of this driver.
func (cons *VgaTextConsole) DriverName() string {
	return "vga_text_console"
}

// DriverVersion returns the version of this driver.
func (cons *VgaTextConsole) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit initializes this driver.
func (cons *VgaTextConsole) DriverInit(w io.Writer) *kernel.Error {
	cons.Clear()
	kfmt.Fprintf(w, "%dx%d text mode\n", cons.width, cons.height)
	return nil
}
