package bytecode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func sampleModule() *Unit {
	f := NewFunction("inc", "n")
	f.EmitLocal(OpLoadFast, "n")
	f.EmitConst(int64(1))
	f.Emit(OpBinaryAdd)
	f.Emit(OpReturnValue)

	u := NewUnit("<module>")
	u.EmitConst(f)
	u.EmitArg(OpMakeFunction, 0)
	u.EmitName(OpStoreName, "inc")
	u.EmitConst(2.5)
	u.EmitConst("s")
	u.EmitConst(false)
	u.EmitConst(int64(-42))
	u.EmitConst(nil)
	u.Emit(OpReturnValue)
	return u
}

func TestContainerRoundTrip(t *testing.T) {
	u := sampleModule()
	mtime := time.Unix(1700000000, 0)

	var buf bytes.Buffer
	if err := WriteContainer(&buf, u, FlagOptimized, mtime); err != nil {
		t.Fatalf("WriteContainer: %v", err)
	}
	if !bytes.Equal(buf.Bytes()[:4], ContainerMagic[:]) {
		t.Errorf("magic = %q", buf.Bytes()[:4])
	}

	h, got, err := ReadContainer(&buf)
	if err != nil {
		t.Fatalf("ReadContainer: %v", err)
	}
	if h.Version != ContainerVersion || h.Flags != FlagOptimized || !h.Time().Equal(mtime) {
		t.Errorf("header = %+v", h)
	}

	if got.Name != u.Name || !bytes.Equal(got.Code, u.Code) {
		t.Errorf("unit = %s %v, want %s %v", got.Name, got.Code, u.Name, u.Code)
	}
	if len(got.Consts) != len(u.Consts) {
		t.Fatalf("len(Consts) = %d, want %d", len(got.Consts), len(u.Consts))
	}
	for i, c := range u.Consts {
		if n, ok := c.(*Unit); ok {
			gn, ok := got.Consts[i].(*Unit)
			if !ok || gn.Name != n.Name || gn.ArgCount != n.ArgCount || !bytes.Equal(gn.Code, n.Code) {
				t.Errorf("nested const %d = %#v", i, got.Consts[i])
			}
			continue
		}
		if !sameConst(c, got.Consts[i]) {
			t.Errorf("const %d = %#v, want %#v", i, got.Consts[i], c)
		}
	}
}

func TestMarshalUnitIsDeterministic(t *testing.T) {
	a, err := MarshalUnit(sampleModule())
	if err != nil {
		t.Fatalf("MarshalUnit: %v", err)
	}
	b, _ := MarshalUnit(sampleModule())
	if !bytes.Equal(a, b) {
		t.Error("MarshalUnit produced different bytes for equal units")
	}
}

func TestReadContainerErrors(t *testing.T) {
	var good bytes.Buffer
	if err := WriteContainer(&good, sampleModule(), 0, time.Now()); err != nil {
		t.Fatalf("WriteContainer: %v", err)
	}

	badMagic := append([]byte(nil), good.Bytes()...)
	copy(badMagic, "XXXX")

	future := append([]byte(nil), good.Bytes()...)
	future[4], future[5] = 0xFF, 0xFF

	oversized := append([]byte(nil), good.Bytes()...)
	binary.BigEndian.PutUint32(oversized[12:16], 0xFFFFFFF0)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short header", good.Bytes()[:10], ErrCorruptHeader},
		{"bad magic", badMagic, ErrInvalidMagic},
		{"future version", future, ErrVersionMismatch},
		{"truncated body", good.Bytes()[:good.Len()-3], ErrCorruptBody},
		{"oversized body length", oversized, ErrCorruptBody},
		{"header only", oversized[:HeaderSize], ErrCorruptBody},
	}

	for _, tt := range tests {
		_, _, err := ReadContainer(bytes.NewReader(tt.data))
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestReadContainerBoundsBodyAllocation(t *testing.T) {
	hdr := make([]byte, HeaderSize)
	copy(hdr, ContainerMagic[:])
	binary.BigEndian.PutUint16(hdr[4:6], ContainerVersion)
	binary.BigEndian.PutUint32(hdr[12:16], 0xFFFFFFF0)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, _, err := ReadContainer(bytes.NewReader(hdr))
	runtime.ReadMemStats(&after)

	if !errors.Is(err, ErrCorruptBody) {
		t.Fatalf("err = %v, want %v", err, ErrCorruptBody)
	}
	if grew := after.TotalAlloc - before.TotalAlloc; grew > 1<<20 {
		t.Errorf("allocated %d bytes for an empty body", grew)
	}
}

func TestLoadFileRejectsLengthPastEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forged.sqbc")
	if err := SaveFile(path, sampleModule(), 0, time.Unix(1, 0)); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	binary.BigEndian.PutUint32(data[12:16], uint32(len(data)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, err = LoadFile(path)
	if !errors.Is(err, ErrCorruptBody) {
		t.Errorf("err = %v, want %v", err, ErrCorruptBody)
	}
}

func TestSaveAndLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prog.sqbc")
	u := sampleModule()

	if err := SaveFile(path, u, 0, time.Unix(1, 0)); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	got, h, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if h.ModTime != 1 {
		t.Errorf("ModTime = %d, want 1", h.ModTime)
	}
	if err := Validate(got); err != nil {
		t.Errorf("loaded unit does not validate: %v", err)
	}
}
