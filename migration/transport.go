// This file implements the framed binary transport used to stream policy
// records between the source and destination over a caller supplied
// connection.
//
// Wire format for each message:
//
//	[4-byte big-endian type][8-byte big-endian payload length][payload bytes]
//
// Policy records are little-endian: 24 bytes per CPUID leaf
// (leaf, subleaf, a, b, c, d) and 16 bytes per MSR (index, flags, value).

package migration

import (
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"

	"github.com/bobuhiro11/cpupolicy/cpuid"
	"github.com/bobuhiro11/cpupolicy/msr"
	"github.com/bobuhiro11/cpupolicy/policy"
)

// MsgType identifies a migration protocol message.
type MsgType uint32

const (
	MsgHeader      MsgType = 1 // gob-encoded Header
	MsgPolicyCPUID MsgType = 2 // packed CPUID leaf records
	MsgPolicyMSR   MsgType = 3 // packed MSR records
	MsgDone        MsgType = 4 // source signals end of the policy
	MsgReady       MsgType = 5 // destination accepted the policy
	MsgReject      MsgType = 6 // gob-encoded Rejection
)

const (
	// LeafSize is the encoded size of one CPUID leaf record.
	LeafSize = 24

	// MSRSize is the encoded size of one MSR record.
	MSRSize = 16

	// maxPayload bounds a single message; no policy message comes close.
	maxPayload = 1 << 20
)

var (
	errPayloadTooLarge = errors.New("payload too large")
	errRecordSize      = errors.New("payload is not a whole number of records")
	errUnexpectedMsg   = errors.New("unexpected message")
	errRecordCount     = errors.New("record count differs from header")
)

// Sender writes framed messages to an underlying writer (typically a TCP conn).
type Sender struct {
	w io.Writer
}

// NewSender wraps w as a migration Sender.
func NewSender(w io.Writer) *Sender { return &Sender{w: w} }

// send writes a single framed message.
func (s *Sender) send(t MsgType, payload []byte) error {
	hdr := make([]byte, 12)
	binary.BigEndian.PutUint32(hdr[0:4], uint32(t))
	binary.BigEndian.PutUint64(hdr[4:12], uint64(len(payload)))

	if _, err := s.w.Write(hdr); err != nil {
		return fmt.Errorf("send header: %w", err)
	}

	if len(payload) > 0 {
		if _, err := s.w.Write(payload); err != nil {
			return fmt.Errorf("send payload: %w", err)
		}
	}

	return nil
}

func (s *Sender) sendGob(t MsgType, v any) error {
	var buf bWriter
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encode message %d: %w", t, err)
	}

	return s.send(t, buf)
}

// SendHeader sends h as a MsgHeader.
func (s *Sender) SendHeader(h *Header) error { return s.sendGob(MsgHeader, h) }

// SendLeaves sends CPUID leaf records.
func (s *Sender) SendLeaves(leaves []cpuid.Leaf) error {
	return s.send(MsgPolicyCPUID, EncodeLeaves(leaves))
}

// SendMSRs sends MSR records.
func (s *Sender) SendMSRs(entries []msr.Entry) error {
	return s.send(MsgPolicyMSR, EncodeMSRs(entries))
}

// SendPolicy sends the complete policy of domain: header, CPUID records,
// MSR records, then MsgDone.
func (s *Sender) SendPolicy(domain string, p *policy.Policy) error {
	leaves := p.CPUIDLeaves()
	msrs := p.MSRs()

	h := &Header{Domain: domain, Vendor: p.Vendor().String(), Leaves: len(leaves), MSRs: len(msrs)}

	if err := s.SendHeader(h); err != nil {
		return err
	}

	if err := s.SendLeaves(leaves); err != nil {
		return err
	}

	if err := s.SendMSRs(msrs); err != nil {
		return err
	}

	return s.SendDone()
}

// SendDone signals the end of the policy stream.
func (s *Sender) SendDone() error { return s.send(MsgDone, nil) }

// SendReady signals that the destination accepted the policy.
func (s *Sender) SendReady() error { return s.send(MsgReady, nil) }

// SendReject tells the source why its policy was refused.
func (s *Sender) SendReject(r *Rejection) error { return s.sendGob(MsgReject, r) }

// Receiver reads framed messages from an underlying reader.
type Receiver struct {
	r io.Reader
}

// NewReceiver wraps r as a migration Receiver.
func NewReceiver(r io.Reader) *Receiver { return &Receiver{r: r} }

// Next reads the next message header and returns the type and full payload.
func (r *Receiver) Next() (MsgType, []byte, error) {
	hdr := make([]byte, 12)
	if _, err := io.ReadFull(r.r, hdr); err != nil {
		return 0, nil, fmt.Errorf("read header: %w", err)
	}

	t := MsgType(binary.BigEndian.Uint32(hdr[0:4]))
	length := binary.BigEndian.Uint64(hdr[4:12])

	if length == 0 {
		return t, nil, nil
	}

	if length > maxPayload {
		return 0, nil, fmt.Errorf("%w: type=%d len=%d", errPayloadTooLarge, t, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return 0, nil, fmt.Errorf("read payload (type=%d len=%d): %w", t, length, err)
	}

	return t, payload, nil
}

func (r *Receiver) expect(want MsgType) ([]byte, error) {
	t, payload, err := r.Next()
	if err != nil {
		return nil, err
	}

	if t != want {
		return nil, fmt.Errorf("%w: got type %d, want %d", errUnexpectedMsg, t, want)
	}

	return payload, nil
}

// ReceivePolicy reads a transfer written by SendPolicy and returns its
// records, still unvalidated.
func (r *Receiver) ReceivePolicy() (*Header, []cpuid.Leaf, []msr.Entry, error) {
	payload, err := r.expect(MsgHeader)
	if err != nil {
		return nil, nil, nil, err
	}

	h, err := DecodeHeader(payload)
	if err != nil {
		return nil, nil, nil, err
	}

	if payload, err = r.expect(MsgPolicyCPUID); err != nil {
		return nil, nil, nil, err
	}

	leaves, err := DecodeLeaves(payload)
	if err != nil {
		return nil, nil, nil, err
	}

	if payload, err = r.expect(MsgPolicyMSR); err != nil {
		return nil, nil, nil, err
	}

	msrs, err := DecodeMSRs(payload)
	if err != nil {
		return nil, nil, nil, err
	}

	if len(leaves) != h.Leaves || len(msrs) != h.MSRs {
		return nil, nil, nil, fmt.Errorf("%w: %d leaves, %d msrs; header says %d, %d",
			errRecordCount, len(leaves), len(msrs), h.Leaves, h.MSRs)
	}

	if _, err := r.expect(MsgDone); err != nil {
		return nil, nil, nil, err
	}

	return h, leaves, msrs, nil
}

// EncodeLeaves packs leaves into their wire form.
func EncodeLeaves(leaves []cpuid.Leaf) []byte {
	buf := make([]byte, 0, len(leaves)*LeafSize)

	for _, l := range leaves {
		buf = binary.LittleEndian.AppendUint32(buf, l.Leaf)
		buf = binary.LittleEndian.AppendUint32(buf, l.Subleaf)
		buf = binary.LittleEndian.AppendUint32(buf, l.A)
		buf = binary.LittleEndian.AppendUint32(buf, l.B)
		buf = binary.LittleEndian.AppendUint32(buf, l.C)
		buf = binary.LittleEndian.AppendUint32(buf, l.D)
	}

	return buf
}

// DecodeLeaves unpacks a MsgPolicyCPUID payload.
func DecodeLeaves(payload []byte) ([]cpuid.Leaf, error) {
	if len(payload)%LeafSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes of %d-byte leaves", errRecordSize, len(payload), LeafSize)
	}

	leaves := make([]cpuid.Leaf, 0, len(payload)/LeafSize)

	for b := payload; len(b) > 0; b = b[LeafSize:] {
		leaves = append(leaves, cpuid.Leaf{
			Leaf:    binary.LittleEndian.Uint32(b[0:4]),
			Subleaf: binary.LittleEndian.Uint32(b[4:8]),
			A:       binary.LittleEndian.Uint32(b[8:12]),
			B:       binary.LittleEndian.Uint32(b[12:16]),
			C:       binary.LittleEndian.Uint32(b[16:20]),
			D:       binary.LittleEndian.Uint32(b[20:24]),
		})
	}

	return leaves, nil
}

// EncodeMSRs packs MSR entries into their wire form.
func EncodeMSRs(entries []msr.Entry) []byte {
	buf := make([]byte, 0, len(entries)*MSRSize)

	for _, e := range entries {
		buf = binary.LittleEndian.AppendUint32(buf, e.Index)
		buf = binary.LittleEndian.AppendUint32(buf, e.Flags)
		buf = binary.LittleEndian.AppendUint64(buf, e.Value)
	}

	return buf
}

// DecodeMSRs unpacks a MsgPolicyMSR payload.
func DecodeMSRs(payload []byte) ([]msr.Entry, error) {
	if len(payload)%MSRSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes of %d-byte msrs", errRecordSize, len(payload), MSRSize)
	}

	entries := make([]msr.Entry, 0, len(payload)/MSRSize)

	for b := payload; len(b) > 0; b = b[MSRSize:] {
		entries = append(entries, msr.Entry{
			Index: binary.LittleEndian.Uint32(b[0:4]),
			Flags: binary.LittleEndian.Uint32(b[4:8]),
			Value: binary.LittleEndian.Uint64(b[8:16]),
		})
	}

	return entries, nil
}

// DecodeHeader decodes a gob-encoded Header from payload bytes.
func DecodeHeader(payload []byte) (*Header, error) {
	h := &Header{}
	dec := gob.NewDecoder((*bReader)(&payload))

	if err := dec.Decode(h); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}

	return h, nil
}

// DecodeReject decodes a gob-encoded Rejection from payload bytes.
func DecodeReject(payload []byte) (*Rejection, error) {
	r := &Rejection{}
	dec := gob.NewDecoder((*bReader)(&payload))

	if err := dec.Decode(r); err != nil {
		return nil, fmt.Errorf("decode reject: %w", err)
	}

	return r, nil
}

// bReader wraps a byte slice as an io.Reader.
type bReader []byte

func (b *bReader) Read(p []byte) (int, error) {
	if len(*b) == 0 {
		return 0, io.EOF
	}

	n := copy(p, *b)
	*b = (*b)[n:]

	return n, nil
}

// bWriter collects gob output.
type bWriter []byte

func (b *bWriter) Write(p []byte) (int, error) {
	*b = append(*b, p...)

	return len(p), nil
}
