package bytecode

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Container layout:
//
//	[magic:4 "SQBC"] [version:2] [flags:2] [mtime:4] [body_len:4]
//	[body: canonical CBOR of the unit]
//
// Header fields are big-endian.
const (
	HeaderSize       = 16
	ContainerVersion = uint16(1)
)

// ContainerMagic identifies a squash bytecode container.
var ContainerMagic = [4]byte{'S', 'Q', 'B', 'C'}

// ContainerFlags describes how a container was produced.
type ContainerFlags uint16

const (
	// FlagOptimized marks a unit written after optimization.
	FlagOptimized ContainerFlags = 1 << 0
)

var (
	ErrInvalidMagic    = errors.New("invalid magic number: expected SQBC")
	ErrVersionMismatch = errors.New("container version mismatch")
	ErrCorruptHeader   = errors.New("corrupt container header")
	ErrCorruptBody     = errors.New("corrupt container body")
)

// Header is the fixed-size container prefix. The optimizer never sees it.
type Header struct {
	Magic   [4]byte
	Version uint16
	Flags   ContainerFlags
	ModTime uint32 // Unix seconds of the source the unit was compiled from
	BodyLen uint32
}

// Time returns ModTime as a time.Time.
func (h Header) Time() time.Time {
	return time.Unix(int64(h.ModTime), 0)
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type constKind uint8

const (
	kindNone constKind = iota
	kindBool
	kindInt
	kindFloat
	kindString
	kindUnit
)

type wireUnit struct {
	Name     string      `cbor:"1,keyasint"`
	ArgCount int         `cbor:"2,keyasint,omitempty"`
	Code     []byte      `cbor:"3,keyasint"`
	Consts   []wireConst `cbor:"4,keyasint,omitempty"`
	Names    []string    `cbor:"5,keyasint,omitempty"`
	VarNames []string    `cbor:"6,keyasint,omitempty"`
}

type wireConst struct {
	Kind  constKind `cbor:"1,keyasint"`
	Bool  bool      `cbor:"2,keyasint,omitempty"`
	Int   int64     `cbor:"3,keyasint,omitempty"`
	Float float64   `cbor:"4,keyasint,omitempty"`
	Str   string    `cbor:"5,keyasint,omitempty"`
	Unit  *wireUnit `cbor:"6,keyasint,omitempty"`
}

func toWire(u *Unit) (*wireUnit, error) {
	w := &wireUnit{
		Name:     u.Name,
		ArgCount: u.ArgCount,
		Code:     u.Code,
		Names:    u.Names,
		VarNames: u.VarNames,
	}
	for i, c := range u.Consts {
		var wc wireConst
		switch v := c.(type) {
		case nil:
			wc.Kind = kindNone
		case bool:
			wc.Kind, wc.Bool = kindBool, v
		case int64:
			wc.Kind, wc.Int = kindInt, v
		case float64:
			wc.Kind, wc.Float = kindFloat, v
		case string:
			wc.Kind, wc.Str = kindString, v
		case *Unit:
			nested, err := toWire(v)
			if err != nil {
				return nil, err
			}
			wc.Kind, wc.Unit = kindUnit, nested
		default:
			return nil, fmt.Errorf("%s: constant %d has unsupported type %T", u.Name, i, c)
		}
		w.Consts = append(w.Consts, wc)
	}
	return w, nil
}

func fromWire(w *wireUnit) (*Unit, error) {
	u := &Unit{
		Name:     w.Name,
		ArgCount: w.ArgCount,
		Code:     w.Code,
		Names:    w.Names,
		VarNames: w.VarNames,
		Consts:   make([]Value, 0, len(w.Consts)),
	}
	if u.Code == nil {
		u.Code = []byte{}
	}
	for i, wc := range w.Consts {
		switch wc.Kind {
		case kindNone:
			u.Consts = append(u.Consts, nil)
		case kindBool:
			u.Consts = append(u.Consts, wc.Bool)
		case kindInt:
			u.Consts = append(u.Consts, wc.Int)
		case kindFloat:
			u.Consts = append(u.Consts, wc.Float)
		case kindString:
			u.Consts = append(u.Consts, wc.Str)
		case kindUnit:
			if wc.Unit == nil {
				return nil, fmt.Errorf("%w: %s: constant %d is an empty unit", ErrCorruptBody, w.Name, i)
			}
			nested, err := fromWire(wc.Unit)
			if err != nil {
				return nil, err
			}
			u.Consts = append(u.Consts, nested)
		default:
			return nil, fmt.Errorf("%w: %s: constant %d has unknown kind %d", ErrCorruptBody, w.Name, i, wc.Kind)
		}
	}
	return u, nil
}

// MarshalUnit serializes a unit to canonical CBOR.
func MarshalUnit(u *Unit) ([]byte, error) {
	w, err := toWire(u)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(w)
}

// UnmarshalUnit deserializes a unit from CBOR.
func UnmarshalUnit(data []byte) (*Unit, error) {
	var w wireUnit
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBody, err)
	}
	return fromWire(&w)
}

// WriteContainer writes header and body for u.
func WriteContainer(w io.Writer, u *Unit, flags ContainerFlags, mtime time.Time) error {
	body, err := MarshalUnit(u)
	if err != nil {
		return err
	}
	hdr := make([]byte, 0, HeaderSize)
	hdr = append(hdr, ContainerMagic[:]...)
	hdr = binary.BigEndian.AppendUint16(hdr, ContainerVersion)
	hdr = binary.BigEndian.AppendUint16(hdr, uint16(flags))
	hdr = binary.BigEndian.AppendUint32(hdr, uint32(mtime.Unix()))
	hdr = binary.BigEndian.AppendUint32(hdr, uint32(len(body)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadHeader reads and checks the fixed-size header.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrCorruptHeader, err)
	}
	var h Header
	copy(h.Magic[:], buf[0:4])
	if h.Magic != ContainerMagic {
		return Header{}, fmt.Errorf("%w: got %q", ErrInvalidMagic, h.Magic[:])
	}
	h.Version = binary.BigEndian.Uint16(buf[4:6])
	h.Flags = ContainerFlags(binary.BigEndian.Uint16(buf[6:8]))
	h.ModTime = binary.BigEndian.Uint32(buf[8:12])
	h.BodyLen = binary.BigEndian.Uint32(buf[12:16])
	if h.Version > ContainerVersion {
		return Header{}, fmt.Errorf("%w: version %d is newer than supported version %d", ErrVersionMismatch, h.Version, ContainerVersion)
	}
	return h, nil
}

// ReadContainer reads a header and the unit that follows it.
func ReadContainer(r io.Reader) (Header, *Unit, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Header{}, nil, err
	}
	u, err := readBody(r, h)
	if err != nil {
		return Header{}, nil, err
	}
	return h, u, nil
}

// readBody reads at most h.BodyLen bytes. The buffer grows with the data
// actually read, never with the length the header claims.
func readBody(r io.Reader, h Header) (*Unit, error) {
	body, err := io.ReadAll(io.LimitReader(r, int64(h.BodyLen)))
	if err != nil {
		return nil, fmt.Errorf("%w: body of %d bytes: %v", ErrCorruptBody, h.BodyLen, err)
	}
	if len(body) != int(h.BodyLen) {
		return nil, fmt.Errorf("%w: body of %d bytes, got %d", ErrCorruptBody, h.BodyLen, len(body))
	}
	return UnmarshalUnit(body)
}

// Load reads a container and returns its unit, discarding the header.
func Load(r io.Reader) (*Unit, error) {
	_, u, err := ReadContainer(r)
	return u, err
}

// LoadFile loads a container from disk.
func LoadFile(path string) (*Unit, Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, Header{}, err
	}

	br := bufio.NewReader(f)
	h, err := ReadHeader(br)
	if err != nil {
		return nil, Header{}, fmt.Errorf("%s: %w", path, err)
	}
	if info.Mode().IsRegular() && int64(h.BodyLen) > info.Size()-HeaderSize {
		return nil, Header{}, fmt.Errorf("%s: %w: header claims %d body bytes, file has %d",
			path, ErrCorruptBody, h.BodyLen, info.Size()-HeaderSize)
	}
	u, err := readBody(br, h)
	if err != nil {
		return nil, Header{}, fmt.Errorf("%s: %w", path, err)
	}
	return u, h, nil
}

// SaveFile writes u to path as a container.
func SaveFile(path string, u *Unit, flags ContainerFlags, mtime time.Time) error {
	var buf bytes.Buffer
	if err := WriteContainer(&buf, u, flags, mtime); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
