package norcow

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/coldvault/securestore/log"
)

// fileMagic tags the on-disk format so a stray file is never mistaken for
// a store image.
const fileMagic = "NRCW1\x00"

// File is a Norcow implementation that persists the log to a single file
// on a development host. It keeps the authoritative copy of every entry
// in memory (the same bit-clear discipline as Mem) and flushes a full
// snapshot to disk after each mutation using a temp-file-then-rename
// pattern so a crash mid-write never corrupts the previous, still-valid
// image.
//
// This does not model flash's true in-place bit-clear writes at the byte
// level; it models the contract (illegal bit sets rejected, durable once
// the call returns) while keeping the on-host implementation simple.
type File struct {
	path string
	mem  *Mem
}

var _ Norcow = (*File)(nil)

// OpenFile opens (or creates) a file-backed Norcow at path.
func OpenFile(path string) (*File, error) {
	f := &File{path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		f.mem = NewMem(0)
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("norcow: unable to read store file %q: %w", path, err)
	}

	m, version, err := decodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("norcow: unable to decode store file %q: %w", path, err)
	}
	f.mem = m
	f.mem.version = version

	return f, nil
}

func (f *File) Get(key Key) ([]byte, bool) { return f.mem.Get(key) }

func (f *File) Set(key Key, value []byte) error {
	if err := f.mem.Set(key, value); err != nil {
		return err
	}
	return f.flush()
}

func (f *File) SetEx(key Key, value []byte) (bool, error) {
	overwrite, err := f.mem.SetEx(key, value)
	if err != nil {
		return overwrite, err
	}
	return overwrite, f.flush()
}

func (f *File) UpdateBytes(key Key, offset int, bits []byte) error {
	if err := f.mem.UpdateBytes(key, offset, bits); err != nil {
		return err
	}
	return f.flush()
}

func (f *File) UpdateWord(key Key, offset int, word uint32) error {
	if err := f.mem.UpdateWord(key, offset, word); err != nil {
		return err
	}
	return f.flush()
}

func (f *File) Delete(key Key) bool {
	ok := f.mem.Delete(key)
	if ok {
		if err := f.flush(); err != nil {
			log.Error(err).Messagef("norcow: failed to persist delete of key %04x", key)
		}
	}
	return ok
}

func (f *File) GetNext(cursor *Cursor) (Key, []byte, bool) { return f.mem.GetNext(cursor) }

func (f *File) Wipe() error {
	if err := f.mem.Wipe(); err != nil {
		return err
	}
	return f.flush()
}

func (f *File) ActiveVersion() uint32 { return f.mem.ActiveVersion() }

func (f *File) FinishUpgrade() error {
	if err := f.mem.FinishUpgrade(); err != nil {
		return err
	}
	return f.flush()
}

// -----------------------------------------------------------------------------

// flush atomically replaces the store file with a full snapshot of the
// in-memory log: write to a sibling temp file, fsync, then rename over
// the target. Any error during the process leaves the existing file
// intact, mirroring ioutil/atomic.WriteFile's guarantee.
func (f *File) flush() (err error) {
	dir, file := filepath.Split(f.path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, file)
	if err != nil {
		return fmt.Errorf("norcow: unable to create temporary file: %w", err)
	}
	defer func() {
		if rmErr := os.Remove(tmp.Name()); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			log.Error(rmErr).Messagef("norcow: unable to remove temporary file %q", tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err := encodeSnapshot(bw, f.mem); err != nil {
		tmp.Close()
		return fmt.Errorf("norcow: unable to encode snapshot: %w", err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("norcow: unable to flush temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("norcow: unable to sync temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("norcow: unable to close temporary file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("norcow: unable to replace store file: %w", err)
	}
	return nil
}

func encodeSnapshot(w io.Writer, m *Mem) error {
	if _, err := io.WriteString(w, fileMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, m.version); err != nil {
		return err
	}

	var cursor Cursor
	for {
		key, value, ok := m.GetNext(&cursor)
		if !ok {
			break
		}
		if err := binary.Write(w, binary.LittleEndian, uint16(key)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(value))); err != nil {
			return err
		}
		if _, err := w.Write(value); err != nil {
			return err
		}
	}
	// Sentinel record: key 0x0000 with length 0xFFFFFFFF terminates the
	// record stream. No real record carries that length, so a live entry
	// at key 0x0000 is still told apart from the end-of-stream marker.
	if err := binary.Write(w, binary.LittleEndian, uint16(0)); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, uint32(0xFFFFFFFF))
}

func decodeSnapshot(data []byte) (*Mem, uint32, error) {
	if len(data) < len(fileMagic)+4 || string(data[:len(fileMagic)]) != fileMagic {
		return nil, 0, errors.New("norcow: bad magic")
	}
	r := data[len(fileMagic):]
	version := binary.LittleEndian.Uint32(r)
	r = r[4:]

	m := NewMem(version)
	for {
		if len(r) < 6 {
			return nil, 0, errors.New("norcow: truncated snapshot")
		}
		key := Key(binary.LittleEndian.Uint16(r))
		length := binary.LittleEndian.Uint32(r[2:])
		r = r[6:]
		if key == 0 && length == 0xFFFFFFFF {
			break
		}
		if uint32(len(r)) < length {
			return nil, 0, errors.New("norcow: truncated record")
		}
		value := make([]byte, length)
		copy(value, r[:length])
		r = r[length:]
		if _, err := m.setEx(key, value, true); err != nil {
			return nil, 0, err
		}
	}
	return m, version, nil
}
