package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/OpenTraceLab/OpenTraceLogic/pkg/sample"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/trigger"
)

// Command IDs
const (
	CmdIdentity = 0x01
	CmdVersion  = 0x02
	CmdReset    = 0x03
	CmdHalt     = 0x05
	CmdDigital  = 0x06
	CmdUpload   = 0x08
	CmdSerial   = 0x10
	CmdBlink    = 0x11
	CmdSign     = 0xF2
)

// Record sizes
const (
	CommandSize       = 4
	CaptureHeaderSize = 12
	StateRecordSize   = 4
	CompletionSize    = 6
	SampleSize        = 4
	UploadRequestSize = 8
	UploadHeaderSize  = 14
	SignatureSize     = 20
	VersionSize       = 3
	IdentitySize      = 4
)

// DefaultMTU is the largest transfer the device accepts in one write.
const DefaultMTU = 62

// Identity is the reply to a valid signature.
const Identity = 0xea017af5

// FirmwareVersion is the firmware this package speaks to.
var FirmwareVersion = Version{0, 9, 5}

var signature = [SignatureSize]byte{
	CmdSign,
	0x9e, 0xc4, 0xaa, 0xdf,
	0xd8, 0xca, 0x8f, 0xbd,
	0xbe, 0xa9, 0xfe, 0x83,
	0x99, 0xd1, 0xae, 0xeb,
	0, 0, 0,
}

// ErrShortRecord is returned when fewer bytes than a record needs are
// available.
var ErrShortRecord = errors.New("short read")

func short(what string, want, got int) error {
	return fmt.Errorf("frame: %s needs %d bytes, got %d: %w", what, want, got, ErrShortRecord)
}

// Protocol handles encoding/decoding of device commands
type Protocol struct {
	MTU int
}

// NewProtocol creates a new protocol handler. A non-positive mtu selects
// DefaultMTU.
func NewProtocol(mtu int) *Protocol {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	return &Protocol{MTU: mtu}
}

// MaxStates is the most records a capture command can announce.
const MaxStates = 255

// EncodeCapture builds the digital capture command: the 12 byte header
// followed by one record per index 0..MaxIndex. Indices missing from g are
// sent as the default record.
func (p *Protocol) EncodeCapture(g trigger.Graph, d CaptureDescriptor) ([]byte, error) {
	count := int(g.MaxIndex()) + 1
	if count > MaxStates {
		return nil, fmt.Errorf("frame: state %d out of range, the capture header counts at most %d states", g.MaxIndex(), MaxStates)
	}
	duration, enabled := DurationTicks(d.Duration)

	buf := make([]byte, CaptureHeaderSize, CaptureHeaderSize+count*StateRecordSize)
	buf[0] = CmdDigital
	buf[1] = byte(d.Mode)
	buf[2] = byte(count)
	buf[3] = boolByte(d.Ganged)
	buf[4] = boolByte(enabled)
	buf[5] = byte(d.CodeBank)
	binary.LittleEndian.PutUint16(buf[6:], duration)
	binary.LittleEndian.PutUint16(buf[8:], d.MaxEvents)
	binary.LittleEndian.PutUint16(buf[10:], 0)

	def := trigger.DefaultState().Record()
	for i := 0; i < count; i++ {
		rec := def
		if s, ok := g.Lookup(uint8(i)); ok {
			rec = s.Record()
		}
		buf = append(buf, rec[:]...)
	}
	return buf, nil
}

// DecodeCapture parses a capture command. Default records are kept as
// states, so the result always has MaxIndex+1 entries.
func (p *Protocol) DecodeCapture(b []byte) (trigger.Graph, CaptureDescriptor, error) {
	if len(b) < CaptureHeaderSize {
		return trigger.Graph{}, CaptureDescriptor{}, short("capture header", CaptureHeaderSize, len(b))
	}
	if b[0] != CmdDigital {
		return trigger.Graph{}, CaptureDescriptor{}, fmt.Errorf("frame: invalid command ID: 0x%02X", b[0])
	}
	count := int(b[2])
	if count == 0 {
		return trigger.Graph{}, CaptureDescriptor{}, fmt.Errorf("frame: capture command has no states")
	}
	want := CaptureHeaderSize + count*StateRecordSize
	if len(b) < want {
		return trigger.Graph{}, CaptureDescriptor{}, short("capture command", want, len(b))
	}

	d := CaptureDescriptor{
		Mode:      SamplingMode(b[1]),
		Ganged:    b[3] != 0,
		CodeBank:  CodeBank(b[5]),
		MaxEvents: binary.LittleEndian.Uint16(b[8:]),
	}
	if b[4] != 0 {
		d.Duration = TicksDuration(binary.LittleEndian.Uint16(b[6:]))
	}

	states := make([]trigger.State, count)
	for i := range states {
		rec := b[CaptureHeaderSize+i*StateRecordSize:]
		states[i] = trigger.State{
			Index: uint8(i),
			Mask:  rec[0],
			Pass:  rec[1],
			Fail:  rec[2],
			Bits:  rec[3],
		}
	}
	return trigger.FromStates(states...), d, nil
}

// CaptureLength returns the total command length announced by a capture
// header, or 0 if hdr is too short to tell.
func (p *Protocol) CaptureLength(hdr []byte) int {
	if len(hdr) < 3 {
		return 0
	}
	return CaptureHeaderSize + int(hdr[2])*StateRecordSize
}

// Chunks splits frame into writes of at most MTU bytes. The pieces share
// frame's backing array and concatenate back to it.
func (p *Protocol) Chunks(frame []byte) [][]byte {
	mtu := p.MTU
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	chunks := make([][]byte, 0, (len(frame)+mtu-1)/mtu)
	for len(frame) > mtu {
		chunks = append(chunks, frame[:mtu:mtu])
		frame = frame[mtu:]
	}
	if len(frame) > 0 {
		chunks = append(chunks, frame)
	}
	return chunks
}

// EncodeCompletion builds a completion record.
func (p *Protocol) EncodeCompletion(c Completion) []byte {
	buf := make([]byte, CompletionSize)
	buf[0] = byte(c.Mode)
	buf[1] = byte(c.Halt)
	binary.LittleEndian.PutUint16(buf[2:], uint16(c.Triggered))
	binary.LittleEndian.PutUint16(buf[4:], c.SampleCount)
	return buf
}

// DecodeCompletion parses the 6 byte record sent when sampling ends.
func (p *Protocol) DecodeCompletion(b []byte) (Completion, error) {
	if len(b) < CompletionSize {
		return Completion{}, short("completion record", CompletionSize, len(b))
	}
	return Completion{
		Mode:        SamplingMode(b[0]),
		Halt:        HaltReason(b[1]),
		Triggered:   TriggerLocation(binary.LittleEndian.Uint16(b[2:])),
		SampleCount: binary.LittleEndian.Uint16(b[4:]),
	}, nil
}

// EncodeSampleWord builds one uploaded sample word.
func (p *Protocol) EncodeSampleWord(r sample.Raw) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(r))
}

// DecodeSampleWord parses one uploaded sample word.
func (p *Protocol) DecodeSampleWord(b []byte) (sample.Raw, error) {
	if len(b) < SampleSize {
		return 0, short("sample word", SampleSize, len(b))
	}
	return sample.Raw(binary.LittleEndian.Uint32(b)), nil
}

// EncodeCommand builds a 4 byte command with no arguments.
func (p *Protocol) EncodeCommand(cmd byte) []byte {
	return []byte{cmd, 0, 0, 0}
}

// EncodeHalt builds the command that stops sampling or an upload.
func (p *Protocol) EncodeHalt() []byte {
	return p.EncodeCommand(CmdHalt)
}

// EncodeUpload requests count samples starting at first.
func (p *Protocol) EncodeUpload(first, count uint16) []byte {
	buf := make([]byte, UploadRequestSize)
	buf[0] = CmdUpload
	binary.LittleEndian.PutUint16(buf[2:], first)
	binary.LittleEndian.PutUint16(buf[4:], count)
	return buf
}

// DecodeUpload parses an upload request.
func (p *Protocol) DecodeUpload(b []byte) (first, count uint16, err error) {
	if len(b) < UploadRequestSize {
		return 0, 0, short("upload request", UploadRequestSize, len(b))
	}
	if b[0] != CmdUpload {
		return 0, 0, fmt.Errorf("frame: invalid command ID: 0x%02X", b[0])
	}
	return binary.LittleEndian.Uint16(b[2:]), binary.LittleEndian.Uint16(b[4:]), nil
}

// EncodeUploadHeader builds the header that precedes uploaded samples.
func (p *Protocol) EncodeUploadHeader(h UploadHeader) []byte {
	buf := make([]byte, UploadHeaderSize)
	binary.LittleEndian.PutUint16(buf[0:], h.First)
	binary.LittleEndian.PutUint16(buf[2:], h.Count)
	binary.LittleEndian.PutUint16(buf[4:], h.Total)
	binary.LittleEndian.PutUint16(buf[6:], h.MaxMemory)
	buf[8] = byte(h.Mode)
	buf[9] = h.ADCChans
	buf[10] = h.ADCIndexes
	buf[11] = h.ADCHold
	binary.LittleEndian.PutUint16(buf[12:], h.ADCSamples)
	return buf
}

// DecodeUploadHeader parses the 14 byte upload header.
func (p *Protocol) DecodeUploadHeader(b []byte) (UploadHeader, error) {
	if len(b) < UploadHeaderSize {
		return UploadHeader{}, short("upload header", UploadHeaderSize, len(b))
	}
	return UploadHeader{
		First:      binary.LittleEndian.Uint16(b[0:]),
		Count:      binary.LittleEndian.Uint16(b[2:]),
		Total:      binary.LittleEndian.Uint16(b[4:]),
		MaxMemory:  binary.LittleEndian.Uint16(b[6:]),
		Mode:       SamplingMode(b[8]),
		ADCChans:   b[9],
		ADCIndexes: b[10],
		ADCHold:    b[11],
		ADCSamples: binary.LittleEndian.Uint16(b[12:]),
	}, nil
}

// Signature returns the connect signature the firmware answers with
// Identity.
func (p *Protocol) Signature() []byte {
	return append([]byte(nil), signature[:]...)
}

// IsSignature reports whether b starts with the connect signature.
func (p *Protocol) IsSignature(b []byte) bool {
	return len(b) >= SignatureSize && string(b[:SignatureSize]) == string(signature[:])
}

// DecodeIdentity parses the 4 byte identity reply.
func (p *Protocol) DecodeIdentity(b []byte) (uint32, error) {
	if len(b) < IdentitySize {
		return 0, short("identity", IdentitySize, len(b))
	}
	return binary.LittleEndian.Uint32(b), nil
}

// DecodeVersion parses the 3 byte version reply.
func (p *Protocol) DecodeVersion(b []byte) (Version, error) {
	if len(b) < VersionSize {
		return Version{}, short("version", VersionSize, len(b))
	}
	return Version{Major: b[0], Minor: b[1], Patch: b[2]}, nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
