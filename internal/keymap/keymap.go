// Package keymap holds the platform-neutral key names accepted in action requests
// and kill-switch chords, with their native Windows and macOS codes.
package keymap

import (
	"fmt"
	"strings"
)

// Key describes one physical key.
type Key struct {
	Name string
	// WinVK is the Windows virtual-key code and WinScan the set-1 scan code.
	WinVK   uint16
	WinScan uint16
	// WinExtended marks keys that need KEYEVENTF_EXTENDEDKEY.
	WinExtended bool
	// MacCode is the kVK_* virtual keycode from Carbon's Events.h.
	MacCode  uint16
	Modifier bool
}

var table = map[string]Key{}

var aliases = map[string]string{
	"return":  "enter",
	"esc":     "escape",
	"del":     "delete",
	"control": "ctrl",
	"option":  "alt",
	"opt":     "alt",
	"command": "cmd",
	"meta":    "cmd",
	"super":   "cmd",
	"win":     "cmd",
	"pgup":    "pageup",
	"pgdn":    "pagedown",
	"back":    "backspace",
	"ins":     "insert",
	"caps":    "capslock",
}

func add(k Key) { table[k.Name] = k }

func init() {
	letters := []struct {
		r    byte
		scan uint16
		mac  uint16
	}{
		{'a', 0x1E, 0x00}, {'b', 0x30, 0x0B}, {'c', 0x2E, 0x08}, {'d', 0x20, 0x02},
		{'e', 0x12, 0x0E}, {'f', 0x21, 0x03}, {'g', 0x22, 0x05}, {'h', 0x23, 0x04},
		{'i', 0x17, 0x22}, {'j', 0x24, 0x26}, {'k', 0x25, 0x28}, {'l', 0x26, 0x25},
		{'m', 0x32, 0x2E}, {'n', 0x31, 0x2D}, {'o', 0x18, 0x1F}, {'p', 0x19, 0x23},
		{'q', 0x10, 0x0C}, {'r', 0x13, 0x0F}, {'s', 0x1F, 0x01}, {'t', 0x14, 0x11},
		{'u', 0x16, 0x20}, {'v', 0x2F, 0x09}, {'w', 0x11, 0x0D}, {'x', 0x2D, 0x07},
		{'y', 0x15, 0x10}, {'z', 0x2C, 0x06},
	}
	for _, l := range letters {
		add(Key{Name: string(l.r), WinVK: uint16(l.r - 'a' + 'A'), WinScan: l.scan, MacCode: l.mac})
	}

	digitMac := [10]uint16{0x1D, 0x12, 0x13, 0x14, 0x15, 0x17, 0x16, 0x1A, 0x1C, 0x19}
	for d := 0; d <= 9; d++ {
		scan := uint16(0x0B)
		if d > 0 {
			scan = uint16(0x01 + d)
		}
		add(Key{Name: string(rune('0' + d)), WinVK: uint16('0' + d), WinScan: scan, MacCode: digitMac[d]})
	}

	fnScan := [12]uint16{0x3B, 0x3C, 0x3D, 0x3E, 0x3F, 0x40, 0x41, 0x42, 0x43, 0x44, 0x57, 0x58}
	fnMac := [12]uint16{0x7A, 0x78, 0x63, 0x76, 0x60, 0x61, 0x62, 0x64, 0x65, 0x6D, 0x67, 0x6F}
	for i := 0; i < 12; i++ {
		add(Key{Name: fmt.Sprintf("f%d", i+1), WinVK: uint16(0x70 + i), WinScan: fnScan[i], MacCode: fnMac[i]})
	}

	for _, k := range []Key{
		{Name: "enter", WinVK: 0x0D, WinScan: 0x1C, MacCode: 0x24},
		{Name: "tab", WinVK: 0x09, WinScan: 0x0F, MacCode: 0x30},
		{Name: "space", WinVK: 0x20, WinScan: 0x39, MacCode: 0x31},
		{Name: "backspace", WinVK: 0x08, WinScan: 0x0E, MacCode: 0x33},
		{Name: "escape", WinVK: 0x1B, WinScan: 0x01, MacCode: 0x35},
		{Name: "capslock", WinVK: 0x14, WinScan: 0x3A, MacCode: 0x39},
		{Name: "delete", WinVK: 0x2E, WinScan: 0x53, WinExtended: true, MacCode: 0x75},
		{Name: "insert", WinVK: 0x2D, WinScan: 0x52, WinExtended: true, MacCode: 0x72},
		{Name: "home", WinVK: 0x24, WinScan: 0x47, WinExtended: true, MacCode: 0x73},
		{Name: "end", WinVK: 0x23, WinScan: 0x4F, WinExtended: true, MacCode: 0x77},
		{Name: "pageup", WinVK: 0x21, WinScan: 0x49, WinExtended: true, MacCode: 0x74},
		{Name: "pagedown", WinVK: 0x22, WinScan: 0x51, WinExtended: true, MacCode: 0x79},
		{Name: "left", WinVK: 0x25, WinScan: 0x4B, WinExtended: true, MacCode: 0x7B},
		{Name: "up", WinVK: 0x26, WinScan: 0x48, WinExtended: true, MacCode: 0x7E},
		{Name: "right", WinVK: 0x27, WinScan: 0x4D, WinExtended: true, MacCode: 0x7C},
		{Name: "down", WinVK: 0x28, WinScan: 0x50, WinExtended: true, MacCode: 0x7D},
		{Name: "ctrl", WinVK: 0xA2, WinScan: 0x1D, MacCode: 0x3B, Modifier: true},
		{Name: "shift", WinVK: 0xA0, WinScan: 0x2A, MacCode: 0x38, Modifier: true},
		{Name: "alt", WinVK: 0xA4, WinScan: 0x38, MacCode: 0x3A, Modifier: true},
		{Name: "cmd", WinVK: 0x5B, WinScan: 0x5B, WinExtended: true, MacCode: 0x37, Modifier: true},
	} {
		add(k)
	}
}

// Canonical lowercases name and resolves aliases.
func Canonical(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if a, ok := aliases[n]; ok {
		return a
	}
	return n
}

// Lookup returns the key for a name or alias.
func Lookup(name string) (Key, bool) {
	k, ok := table[Canonical(name)]
	return k, ok
}

// Chord resolves every name of a key combination, failing on the first unknown one.
func Chord(names []string) ([]Key, error) {
	keys := make([]Key, 0, len(names))
	for _, n := range names {
		k, ok := Lookup(n)
		if !ok {
			return nil, fmt.Errorf("unknown key %q", n)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// ForRune returns the key that types r without modifiers, when one exists.
// Uppercase letters report needsShift.
func ForRune(r rune) (k Key, needsShift bool, ok bool) {
	switch r {
	case '\n', '\r':
		k, ok = table["enter"]
		return k, false, ok
	case '\t':
		k, ok = table["tab"]
		return k, false, ok
	case ' ':
		k, ok = table["space"]
		return k, false, ok
	}
	if r >= 'A' && r <= 'Z' {
		k, ok = table[string(r-'A'+'a')]
		return k, true, ok
	}
	if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
		k, ok = table[string(r)]
		return k, false, ok
	}
	return Key{}, false, false
}
