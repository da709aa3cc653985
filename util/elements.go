package util

import (
	"encoding/binary"
	"io"
)

// ReadElement reads one fixed-width little-endian value from r. The fast
// paths cover the types that appear in the on-disk records, everything else
// falls through to binary.Read.
func ReadElement(r io.Reader, element interface{}) error {
	var scratch [8]byte

	switch e := element.(type) {
	case *int32:
		b := scratch[0:4]
		if _, err := io.ReadFull(r, b); err != nil {
			return err
		}
		*e = int32(binary.LittleEndian.Uint32(b))
		return nil
	case *uint32:
		b := scratch[0:4]
		if _, err := io.ReadFull(r, b); err != nil {
			return err
		}
		*e = binary.LittleEndian.Uint32(b)
		return nil
	case *int64:
		b := scratch[0:8]
		if _, err := io.ReadFull(r, b); err != nil {
			return err
		}
		*e = int64(binary.LittleEndian.Uint64(b))
		return nil
	case *uint64:
		b := scratch[0:8]
		if _, err := io.ReadFull(r, b); err != nil {
			return err
		}
		*e = binary.LittleEndian.Uint64(b)
		return nil
	case *bool:
		b := scratch[0:1]
		if _, err := io.ReadFull(r, b); err != nil {
			return err
		}
		*e = b[0] != 0x00
		return nil
	case *[4]byte:
		_, err := io.ReadFull(r, e[:])
		return err
	case *Hash:
		_, err := io.ReadFull(r, e[:])
		return err
	}
	return binary.Read(r, binary.LittleEndian, element)
}

func ReadElements(r io.Reader, elements ...interface{}) error {
	for _, element := range elements {
		if err := ReadElement(r, element); err != nil {
			return err
		}
	}
	return nil
}

func WriteElement(w io.Writer, element interface{}) error {
	var scratch [8]byte

	switch e := element.(type) {
	case int32:
		b := scratch[0:4]
		binary.LittleEndian.PutUint32(b, uint32(e))
		_, err := w.Write(b)
		return err
	case uint32:
		b := scratch[0:4]
		binary.LittleEndian.PutUint32(b, e)
		_, err := w.Write(b)
		return err
	case int64:
		b := scratch[0:8]
		binary.LittleEndian.PutUint64(b, uint64(e))
		_, err := w.Write(b)
		return err
	case uint64:
		b := scratch[0:8]
		binary.LittleEndian.PutUint64(b, e)
		_, err := w.Write(b)
		return err
	case bool:
		b := scratch[0:1]
		if e {
			b[0] = 0x01
		} else {
			b[0] = 0x00
		}
		_, err := w.Write(b)
		return err
	case [4]byte:
		_, err := w.Write(e[:])
		return err
	case *Hash:
		_, err := w.Write(e[:])
		return err
	case Hash:
		_, err := w.Write(e[:])
		return err
	}
	return binary.Write(w, binary.LittleEndian, element)
}

func WriteElements(w io.Writer, elements ...interface{}) error {
	for _, element := range elements {
		if err := WriteElement(w, element); err != nil {
			return err
		}
	}
	return nil
}
