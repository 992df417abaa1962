package norcow_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coldvault/securestore/internal/norcow"
)

func TestMem_SetGetDelete(t *testing.T) {
	t.Parallel()

	m := norcow.NewMem(1)

	_, ok := m.Get(0x0001)
	require.False(t, ok)

	require.NoError(t, m.Set(0x0001, []byte("hello")))
	v, ok := m.Get(0x0001)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), v)

	require.NoError(t, m.Set(0x0001, []byte("world!")))
	v, ok = m.Get(0x0001)
	require.True(t, ok)
	require.Equal(t, []byte("world!"), v)

	require.True(t, m.Delete(0x0001))
	_, ok = m.Get(0x0001)
	require.False(t, ok)
	require.False(t, m.Delete(0x0001))
}

func TestMem_SetEx(t *testing.T) {
	t.Parallel()

	m := norcow.NewMem(1)

	existed, err := m.SetEx(0x0002, []byte("a"))
	require.NoError(t, err)
	require.False(t, existed)

	existed, err = m.SetEx(0x0002, []byte("b"))
	require.NoError(t, err)
	require.True(t, existed)

	v, ok := m.Get(0x0002)
	require.True(t, ok)
	require.Equal(t, []byte("a"), v, "SetEx must not overwrite an existing value")
}

func TestMem_UpdateBytesOnlyClearsBits(t *testing.T) {
	t.Parallel()

	m := norcow.NewMem(1)
	require.NoError(t, m.Set(0x0003, []byte{0xFF, 0x0F}))

	require.NoError(t, m.UpdateBytes(0x0003, 0, []byte{0x0F, 0x0F}))
	v, _ := m.Get(0x0003)
	require.Equal(t, []byte{0x0F, 0x0F}, v)

	err := m.UpdateBytes(0x0003, 0, []byte{0xFF, 0x0F})
	require.ErrorIs(t, err, norcow.ErrIllegalBitSet)
}

func TestMem_UpdateWord(t *testing.T) {
	t.Parallel()

	m := norcow.NewMem(1)
	require.NoError(t, m.Set(0x0004, []byte{0xFF, 0xFF, 0xFF, 0xFF}))
	require.NoError(t, m.UpdateWord(0x0004, 0, 0x00FF00FF))
	v, _ := m.Get(0x0004)
	require.Equal(t, []byte{0xFF, 0x00, 0xFF, 0x00}, v)
}

func TestMem_GetNextVisitsInsertionOrder(t *testing.T) {
	t.Parallel()

	m := norcow.NewMem(1)
	require.NoError(t, m.Set(0x0010, []byte("a")))
	require.NoError(t, m.Set(0x0020, []byte("b")))
	require.NoError(t, m.Set(0x0030, []byte("c")))

	var got []norcow.Key
	var cursor norcow.Cursor
	for {
		k, _, ok := m.GetNext(&cursor)
		if !ok {
			break
		}
		got = append(got, k)
	}
	require.Equal(t, []norcow.Key{0x0010, 0x0020, 0x0030}, got)
}

func TestMem_Wipe(t *testing.T) {
	t.Parallel()

	m := norcow.NewMem(1)
	require.NoError(t, m.Set(0x0001, []byte("x")))
	require.NoError(t, m.Wipe())

	_, ok := m.Get(0x0001)
	require.False(t, ok)

	var cursor norcow.Cursor
	_, _, ok = m.GetNext(&cursor)
	require.False(t, ok)
}

func TestMem_ActiveVersion(t *testing.T) {
	t.Parallel()

	m := norcow.NewMem(7)
	require.Equal(t, uint32(7), m.ActiveVersion())
}
