package sink

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/walkanth/sweptgo/internal/region"
	"github.com/walkanth/sweptgo/internal/tensor"
)

// File format: a fixed-size little-endian header followed by the output
// tensor in (step, variable, x, y) row-major float64 order. The header is
// rewritten on Close so the elapsed-time gather lands in it.
//
//	offset  field
//	     0  magic "swpt"
//	     4  format version (uint32)
//	     8  outputSteps, nv, nx, ny, bs (uint64 each)
//	    48  affinity, t0, dt, elapsed (float64 each)
const (
	fileMagic   = "swpt"
	fileVersion = 1
	headerSize  = 80
)

// File is the binary file sink. Concurrent Writes to disjoint windows are
// safe: every slice lands at its own offset through WriteAt.
type File struct {
	f    *os.File
	meta Meta
}

// NewFile creates (or truncates) path and writes the header.
func NewFile(path string, meta Meta) (*File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sink: create %s: %w", path, err)
	}
	s := &File{f: f, meta: meta}
	if err := s.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	// Size the file up front so concurrent WriteAt calls never race over
	// extension.
	total := int64(headerSize) + 8*int64(meta.OutputSteps*meta.NV*meta.NX*meta.NY)
	if err := f.Truncate(total); err != nil {
		f.Close()
		return nil, fmt.Errorf("sink: size %s: %w", path, err)
	}
	return s, nil
}

func (s *File) writeHeader() error {
	buf := make([]byte, headerSize)
	copy(buf, fileMagic)
	binary.LittleEndian.PutUint32(buf[4:], fileVersion)
	for i, v := range []int{s.meta.OutputSteps, s.meta.NV, s.meta.NX, s.meta.NY, s.meta.BS} {
		binary.LittleEndian.PutUint64(buf[8+8*i:], uint64(v))
	}
	for i, v := range []float64{s.meta.Affinity, s.meta.T0, s.meta.DT, s.meta.Elapsed} {
		binary.LittleEndian.PutUint64(buf[48+8*i:], math.Float64bits(v))
	}
	if _, err := s.f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("sink: header: %w", err)
	}
	return nil
}

func (s *File) offset(step, v, x, y int) int64 {
	return headerSize + 8*int64(((step*s.meta.NV+v)*s.meta.NX+x)*s.meta.NY+y)
}

func (s *File) Write(rowStart, rowEnd int, spatial region.Region, src *tensor.Tensor) error {
	if rowStart < 0 || rowEnd > s.meta.OutputSteps || rowEnd < rowStart {
		return fmt.Errorf("sink: rows [%d, %d) outside %d output steps", rowStart, rowEnd, s.meta.OutputSteps)
	}
	sh := src.Shape()
	want := [4]int{rowEnd - rowStart, s.meta.NV, spatial.X.Len(), spatial.Y.Len()}
	if sh != want {
		return fmt.Errorf("sink: slice shape %v does not match rows and window %v", sh, want)
	}
	buf := make([]byte, 8*sh[3])
	for t := 0; t < sh[0]; t++ {
		for v := 0; v < sh[1]; v++ {
			for x := 0; x < sh[2]; x++ {
				for y := 0; y < sh[3]; y++ {
					binary.LittleEndian.PutUint64(buf[8*y:], math.Float64bits(src.At(t, v, x, y)))
				}
				off := s.offset(rowStart+t, v, spatial.X.Start+x, spatial.Y.Start)
				if _, err := s.f.WriteAt(buf, off); err != nil {
					return fmt.Errorf("sink: write row %d: %w", rowStart+t, err)
				}
			}
		}
	}
	return nil
}

func (s *File) SetElapsed(seconds float64) {
	s.meta.Elapsed = seconds
}

// Close rewrites the header with final metadata and closes the file.
func (s *File) Close() error {
	if err := s.writeHeader(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// ReadFile loads a sink file back into memory; verification helper.
func ReadFile(path string) (Meta, *tensor.Tensor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, nil, fmt.Errorf("sink: read %s: %w", path, err)
	}
	if len(raw) < headerSize || string(raw[:4]) != fileMagic {
		return Meta{}, nil, fmt.Errorf("sink: %s is not a sink file", path)
	}
	if v := binary.LittleEndian.Uint32(raw[4:]); v != fileVersion {
		return Meta{}, nil, fmt.Errorf("sink: %s has format version %d, want %d", path, v, fileVersion)
	}
	var meta Meta
	ints := []*int{&meta.OutputSteps, &meta.NV, &meta.NX, &meta.NY, &meta.BS}
	for i, p := range ints {
		*p = int(binary.LittleEndian.Uint64(raw[8+8*i:]))
	}
	floats := []*float64{&meta.Affinity, &meta.T0, &meta.DT, &meta.Elapsed}
	for i, p := range floats {
		*p = math.Float64frombits(binary.LittleEndian.Uint64(raw[48+8*i:]))
	}
	n := meta.OutputSteps * meta.NV * meta.NX * meta.NY
	if len(raw) != headerSize+8*n {
		return Meta{}, nil, fmt.Errorf("sink: %s holds %d bytes, want %d", path, len(raw), headerSize+8*n)
	}
	out := tensor.New(meta.OutputSteps, meta.NV, meta.NX, meta.NY)
	data := out.Data()
	for i := range data {
		data[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[headerSize+8*i:]))
	}
	return meta, out, nil
}
