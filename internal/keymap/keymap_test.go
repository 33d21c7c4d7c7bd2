package keymap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	k, ok := Lookup("Return")
	require.True(t, ok)
	assert.Equal(t, "enter", k.Name)
	assert.Equal(t, uint16(0x0D), k.WinVK)
	assert.Equal(t, uint16(0x24), k.MacCode)

	a, ok := Lookup("a")
	require.True(t, ok)
	assert.Equal(t, uint16('A'), a.WinVK)
	assert.Equal(t, uint16(0x1E), a.WinScan)

	f12, ok := Lookup("F12")
	require.True(t, ok)
	assert.Equal(t, uint16(0x7B), f12.WinVK)

	zero, ok := Lookup("0")
	require.True(t, ok)
	assert.Equal(t, uint16(0x0B), zero.WinScan)
	assert.Equal(t, uint16(0x1D), zero.MacCode)

	_, ok = Lookup("hyper")
	assert.False(t, ok)
}

func TestChord(t *testing.T) {
	keys, err := Chord([]string{"control", "option", "k"})
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.True(t, keys[0].Modifier)
	assert.True(t, keys[1].Modifier)
	assert.False(t, keys[2].Modifier)

	_, err = Chord([]string{"ctrl", "nope"})
	assert.Error(t, err)
}

func TestForRune(t *testing.T) {
	k, shift, ok := ForRune('Q')
	require.True(t, ok)
	assert.True(t, shift)
	assert.Equal(t, "q", k.Name)

	k, shift, ok = ForRune('\n')
	require.True(t, ok)
	assert.False(t, shift)
	assert.Equal(t, "enter", k.Name)

	_, _, ok = ForRune('é')
	assert.False(t, ok)
}
