package store

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/itohio/gostation/pkg/calib"
)

const (
	// NameSize is the tip name capacity of a record.
	NameSize = 5
	// TipRecordSize is the encoded size of a TipRecord.
	TipRecordSize = 2*calib.Points + 1 + NameSize + 1 + 1
	// NoChunk marks a tip without a record.
	NoChunk uint8 = 0xFF
)

// TipRecord is the on-disk calibration of one tip, little endian.
type TipRecord struct {
	Calibration [calib.Points]uint16
	Mask        uint8
	Name        [NameSize]byte
	Ambient     int8
	CRC         uint8
}

// NewTipRecord builds a sealed record. Names longer than NameSize are rejected.
func NewTipRecord(name string, tip calib.TipCalibration) (TipRecord, error) {
	if len(name) == 0 || len(name) > NameSize {
		return TipRecord{}, fmt.Errorf("%q: %w", name, ErrUnknownTip)
	}
	r := TipRecord{
		Calibration: tip.Calibration,
		Mask:        uint8(tip.Status),
		Ambient:     tip.Ambient,
	}
	copy(r.Name[:], name)
	r.CRC = r.Checksum()
	return r, nil
}

// Checksum computes the record checksum.
func (r *TipRecord) Checksum() uint8 {
	s := uint32(r.Calibration[0])
	for _, c := range r.Calibration[1:] {
		s = s<<1 + uint32(c)
	}
	s = s<<1 + uint32(r.Mask)
	s = s<<1 + uint32(uint8(r.Ambient))
	for _, b := range r.Name {
		s = s<<1 + uint32(b)
	}
	s += 117
	return uint8(s & 0xFF)
}

// Valid reports whether the stored checksum matches.
func (r *TipRecord) Valid() bool { return r.CRC == r.Checksum() }

// TipName returns the name without the zero padding.
func (r *TipRecord) TipName() string {
	return string(bytes.TrimRight(r.Name[:], "\x00"))
}

// Tip converts the record to a calibration.
func (r *TipRecord) Tip() calib.TipCalibration {
	return calib.TipCalibration{
		Calibration: r.Calibration,
		Ambient:     r.Ambient,
		Status:      calib.Status(r.Mask),
	}
}

func (r TipRecord) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *TipRecord) UnmarshalBinary(b []byte) error {
	if len(b) != TipRecordSize {
		return fmt.Errorf("tip record of %d bytes: %w", len(b), ErrSize)
	}
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, r)
}

// decodeTips splits a tip file into records. Every record must be valid.
func decodeTips(data []byte) ([]TipRecord, error) {
	if len(data)%TipRecordSize != 0 {
		return nil, fmt.Errorf("tip file of %d bytes: %w", len(data), ErrSize)
	}
	recs := make([]TipRecord, len(data)/TipRecordSize)
	for i := range recs {
		if err := recs[i].UnmarshalBinary(data[i*TipRecordSize : (i+1)*TipRecordSize]); err != nil {
			return nil, err
		}
		if !recs[i].Valid() {
			return nil, fmt.Errorf("tip chunk %d: %w", i, ErrChecksum)
		}
	}
	return recs, nil
}

// intactTips keeps the valid records of a damaged tip file, dropping the bad
// chunks and a trailing partial record.
func intactTips(data []byte) []TipRecord {
	var recs []TipRecord
	for off := 0; off+TipRecordSize <= len(data); off += TipRecordSize {
		var r TipRecord
		if err := r.UnmarshalBinary(data[off : off+TipRecordSize]); err != nil || !r.Valid() {
			continue
		}
		recs = append(recs, r)
	}
	return recs
}

func validTips(data []byte) error {
	_, err := decodeTips(data)
	return err
}
