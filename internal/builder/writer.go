package builder

import (
	"bytes"
	"encoding/binary"
)

// ByteWriter is a runtime encoder buffer used by a generated
// Create<Opcode> call to assemble one encoded bytecode instance. Grounded
// directly on internal/jvmgen/writer.go's ByteWriter, generalized from
// JVM-class-file big-endian writes to the same big-endian, unaligned
// layout internal/variant.EncodeOperand uses.
type ByteWriter struct {
	buf bytes.Buffer
}

func NewByteWriter() *ByteWriter { return &ByteWriter{} }

func (w *ByteWriter) WriteU8(v uint8)   { w.buf.WriteByte(v) }
func (w *ByteWriter) WriteU16(v uint16) { binary.Write(&w.buf, binary.BigEndian, v) }
func (w *ByteWriter) WriteU32(v uint32) { binary.Write(&w.buf, binary.BigEndian, v) }
func (w *ByteWriter) WriteU64(v uint64) { binary.Write(&w.buf, binary.BigEndian, v) }
func (w *ByteWriter) WriteBytes(b []byte) { w.buf.Write(b) }
func (w *ByteWriter) Bytes() []byte     { return w.buf.Bytes() }
func (w *ByteWriter) Len() int          { return w.buf.Len() }
func (w *ByteWriter) Reset()            { w.buf.Reset() }

// Offset returns the current write position — used to record a
// BranchTargetPopulator's back-patch offset.
func (w *ByteWriter) Offset() int { return w.buf.Len() }

// BranchTargetPopulator holds the offset at which to back-patch a
// variant's conditional-branch target
type BranchTargetPopulator struct {
	buf    *bytes.Buffer
	offset int
}

// NewBranchTargetPopulator captures the current write position of w as the
// patch site.
func NewBranchTargetPopulator(w *ByteWriter) *BranchTargetPopulator {
	return &BranchTargetPopulator{buf: &w.buf, offset: w.buf.Len()}
}

// Populate back-patches the captured offset with a signed 32-bit relative
// target, mirroring Chunk.PatchJump's big-endian patch-in-place.
func (p *BranchTargetPopulator) Populate(target int32) {
	b := p.buf.Bytes()
	binary.BigEndian.PutUint32(b[p.offset:], uint32(target))
}
