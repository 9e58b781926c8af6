package vector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// Snapshot layout (little endian):
//
//	magic "UGVX" | version u16 | metric u8 | reserved u8 | dimensions u32 | count u32 | nextSeq u64
//	count x ( seq u64 | idLen u32 | id | dimensions x f32 )
const (
	snapshotMagic   = "UGVX"
	snapshotVersion = uint16(1)
	maxIDLen        = 1 << 16
	maxDimensions   = 1 << 16
)

type snapshot struct {
	metric     Metric
	dimensions int
	nextSeq    uint64
	entries    []memoryEntry
}

type snapshotHeader struct {
	Magic      [4]byte
	Version    uint16
	Metric     uint8
	Reserved   uint8
	Dimensions uint32
	Count      uint32
	NextSeq    uint64
}

// writeSnapshot writes to a temp file in the same directory and renames it into place.
func writeSnapshot(path string, s snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriter(tmp)
	hdr := snapshotHeader{
		Version:    snapshotVersion,
		Metric:     s.metric.code(),
		Dimensions: uint32(s.dimensions),
		Count:      uint32(len(s.entries)),
		NextSeq:    s.nextSeq,
	}
	copy(hdr.Magic[:], snapshotMagic)
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		tmp.Close()
		return fmt.Errorf("write header: %w", err)
	}
	for _, e := range s.entries {
		if err := binary.Write(w, binary.LittleEndian, e.seq); err != nil {
			tmp.Close()
			return fmt.Errorf("write seq: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(e.id))); err != nil {
			tmp.Close()
			return fmt.Errorf("write id len: %w", err)
		}
		if _, err := w.WriteString(e.id); err != nil {
			tmp.Close()
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(e.vec)); err != nil {
			tmp.Close()
			return fmt.Errorf("write vector: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename index file: %w", err)
	}
	return nil
}

// readSnapshot returns nil, nil when path does not exist.
func readSnapshot(path string) (*snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var hdr snapshotHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrSnapshotFormat, err)
	}
	if string(hdr.Magic[:]) != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrSnapshotFormat, hdr.Magic[:])
	}
	if hdr.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrSnapshotFormat, hdr.Version)
	}
	metric, err := metricFromCode(hdr.Metric)
	if err != nil {
		return nil, err
	}
	if hdr.Dimensions == 0 || hdr.Dimensions > maxDimensions {
		return nil, fmt.Errorf("%w: dimensions %d out of range", ErrSnapshotFormat, hdr.Dimensions)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat index file: %w", err)
	}
	// Every entry takes at least seq, idLen, a one-byte id and the vector.
	minEntry := int64(8 + 4 + 1 + 4*int64(hdr.Dimensions))
	body := info.Size() - int64(binary.Size(hdr))
	if int64(hdr.Count)*minEntry > body {
		return nil, fmt.Errorf("%w: %d entries do not fit in %d bytes", ErrSnapshotFormat, hdr.Count, body)
	}
	s := &snapshot{
		metric:     metric,
		dimensions: int(hdr.Dimensions),
		nextSeq:    hdr.NextSeq,
		entries:    make([]memoryEntry, 0, hdr.Count),
	}
	buf := make([]byte, s.dimensions*4)
	for i := uint32(0); i < hdr.Count; i++ {
		var seq uint64
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &seq); err != nil {
			return nil, fmt.Errorf("%w: read seq: %v", ErrSnapshotFormat, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return nil, fmt.Errorf("%w: read id len: %v", ErrSnapshotFormat, err)
		}
		if idLen == 0 || idLen > maxIDLen {
			return nil, fmt.Errorf("%w: id length %d out of range", ErrSnapshotFormat, idLen)
		}
		id := make([]byte, idLen)
		if _, err := io.ReadFull(r, id); err != nil {
			return nil, fmt.Errorf("%w: read id: %v", ErrSnapshotFormat, err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: read vector: %v", ErrSnapshotFormat, err)
		}
		s.entries = append(s.entries, memoryEntry{id: string(id), vec: bytesToFloat32Slice(buf), seq: seq})
	}
	return s, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
