package norcow

import (
	"container/list"
	"fmt"
)

// Mem is an in-memory, insertion-ordered Norcow implementation. It is the
// backend used by every unit test and property test in this module; it
// enforces the same bit-clear-only discipline a real flash-backed adapter
// would, so tests exercise the real write discipline rather than a
// weaker stand-in.
type Mem struct {
	version uint32
	entries map[Key]*list.Element
	order   *list.List // of *memEntry, insertion order
}

type memEntry struct {
	key   Key
	value []byte
}

// NewMem returns an empty in-memory Norcow at the given reported
// ActiveVersion (used by upgrade-path tests to simulate booting against a
// legacy image).
func NewMem(activeVersion uint32) *Mem {
	return &Mem{
		version: activeVersion,
		entries: make(map[Key]*list.Element),
		order:   list.New(),
	}
}

var _ Norcow = (*Mem)(nil)

func (m *Mem) Get(key Key) ([]byte, bool) {
	el, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	v := el.Value.(*memEntry).value
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

func (m *Mem) Set(key Key, value []byte) error {
	_, err := m.setEx(key, value, true)
	return err
}

func (m *Mem) SetEx(key Key, value []byte) (bool, error) {
	return m.setEx(key, value, false)
}

func (m *Mem) setEx(key Key, value []byte, overwrite bool) (bool, error) {
	stored := make([]byte, len(value))
	copy(stored, value)

	if el, ok := m.entries[key]; ok {
		if !overwrite {
			return true, nil
		}
		el.Value.(*memEntry).value = stored
		return true, nil
	}

	el := m.order.PushBack(&memEntry{key: key, value: stored})
	m.entries[key] = el
	return false, nil
}

func (m *Mem) UpdateBytes(key Key, offset int, bits []byte) error {
	el, ok := m.entries[key]
	if !ok {
		return fmt.Errorf("norcow: update of unknown key %04x: %w", key, ErrNotFound)
	}
	e := el.Value.(*memEntry)
	if offset < 0 || offset+len(bits) > len(e.value) {
		return fmt.Errorf("norcow: update out of bounds for key %04x", key)
	}
	for i, b := range bits {
		cur := e.value[offset+i]
		if b&^cur != 0 {
			return ErrIllegalBitSet
		}
		e.value[offset+i] = cur & b
	}
	return nil
}

func (m *Mem) UpdateWord(key Key, offset int, word uint32) error {
	var buf [4]byte
	buf[0] = byte(word)
	buf[1] = byte(word >> 8)
	buf[2] = byte(word >> 16)
	buf[3] = byte(word >> 24)
	return m.UpdateBytes(key, offset, buf[:])
}

func (m *Mem) Delete(key Key) bool {
	el, ok := m.entries[key]
	if !ok {
		return false
	}
	m.order.Remove(el)
	delete(m.entries, key)
	return true
}

func (m *Mem) GetNext(cursor *Cursor) (Key, []byte, bool) {
	i := 0
	for e := m.order.Front(); e != nil; e = e.Next() {
		if i == cursor.offset {
			cursor.offset++
			me := e.Value.(*memEntry)
			out := make([]byte, len(me.value))
			copy(out, me.value)
			return me.key, out, true
		}
		i++
	}
	return 0, nil, false
}

func (m *Mem) Wipe() error {
	m.entries = make(map[Key]*list.Element)
	m.order = list.New()
	return nil
}

func (m *Mem) ActiveVersion() uint32 { return m.version }

func (m *Mem) FinishUpgrade() error {
	m.version++
	return nil
}
