package store

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"

	"go.uber.org/zap"

	"github.com/itohio/gostation/pkg/calib"
)

// GunTip is the synthetic tip holding the hot air gun calibration. It is
// always the first entry of the catalog.
const GunTip = "HGUN"

// DefaultCatalog lists the T12 tip names the station knows.
var DefaultCatalog = []string{
	GunTip,
	"B", "B2", "BC1", "BC2", "BC3", "BCF1", "BCF2", "BCF3",
	"BL", "BZ", "C1", "C4", "CF4", "D08", "D12", "D16",
	"D24", "D4", "DL12", "I", "ILS", "J02", "JL02", "K",
	"KF", "KL", "KR", "KU", "WD08", "WD12", "WD16", "WI",
}

// TipEntry maps a tip name to its record.
type TipEntry struct {
	Chunk uint8 // record index in the tip file, NoChunk when absent
	Mask  calib.Status
}

// TipStore keeps the tip calibration records. The table has one entry per
// catalog name and is built by Scan.
type TipStore struct {
	rot     rotation
	catalog []string
	table   []TipEntry
	log     *zap.SugaredLogger
}

// NewTipStore creates a store over the tip file pair. A nil catalog selects
// DefaultCatalog.
func NewTipStore(fsys FS, catalog []string, log *zap.SugaredLogger) *TipStore {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if catalog == nil {
		catalog = DefaultCatalog
	}
	s := &TipStore{
		rot:     rotation{fs: fsys, current: TipFile, backup: TipBackupFile, log: log},
		catalog: slices.Clone(catalog),
		table:   make([]TipEntry, len(catalog)),
		log:     log,
	}
	s.clear()
	return s
}

func (s *TipStore) clear() {
	for i := range s.table {
		s.table[i] = TipEntry{Chunk: NoChunk}
	}
}

// Scan rebuilds the tip table from the tip file. Records of names outside the
// catalog are ignored. A missing file yields an empty table, a damaged one
// keeps its valid records.
func (s *TipStore) Scan() error {
	s.clear()
	recs, err := s.records()
	if err != nil {
		return err
	}
	s.index(recs)
	s.log.Infow("tip table loaded", "records", len(recs), "active", len(s.ActiveTips()))
	return nil
}

func (s *TipStore) index(recs []TipRecord) {
	s.clear()
	for chunk, r := range recs {
		idx := s.Index(r.TipName())
		if idx < 0 {
			s.log.Debugw("skip foreign tip record", "name", r.TipName(), "chunk", chunk)
			continue
		}
		s.table[idx] = TipEntry{Chunk: uint8(chunk), Mask: calib.Status(r.Mask)}
	}
}

// records returns the records of the first valid tip file. When neither file
// is valid the intact records of the damaged one are returned; the next Save
// rewrites the file from them.
func (s *TipStore) records() ([]TipRecord, error) {
	data, err := s.rot.load(validTips)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err == nil {
		return decodeTips(data)
	}
	for _, name := range []string{s.rot.current, s.rot.backup} {
		raw, rerr := readAll(s.rot.fs, name)
		if rerr != nil {
			continue
		}
		recs := intactTips(raw)
		s.log.Warnw("tip file damaged, keeping intact records", "file", name, "kept", len(recs), "error", err)
		return recs, nil
	}
	return nil, err
}

// Index returns the catalog position of the name or -1.
func (s *TipStore) Index(name string) int { return slices.Index(s.catalog, name) }

// Names returns the catalog.
func (s *TipStore) Names() []string { return slices.Clone(s.catalog) }

// Table returns a copy of the tip table.
func (s *TipStore) Table() []TipEntry { return slices.Clone(s.table) }

// ActiveTips returns the names whose record is marked active.
func (s *TipStore) ActiveTips() []string {
	var names []string
	for i, e := range s.table {
		if e.Chunk != NoChunk && e.Mask&calib.Active != 0 {
			names = append(names, s.catalog[i])
		}
	}
	return names
}

// Load reads the calibration of the named tip.
func (s *TipStore) Load(name string) (calib.TipCalibration, error) {
	idx := s.Index(name)
	if idx < 0 {
		return calib.TipCalibration{}, fmt.Errorf("%q: %w", name, ErrUnknownTip)
	}
	e := s.table[idx]
	if e.Chunk == NoChunk {
		return calib.TipCalibration{}, fmt.Errorf("%q: %w", name, ErrTipNotFound)
	}
	recs, err := s.records()
	if err != nil {
		return calib.TipCalibration{}, err
	}
	if int(e.Chunk) >= len(recs) || recs[e.Chunk].TipName() != name {
		return calib.TipCalibration{}, fmt.Errorf("%q chunk %d: %w", name, e.Chunk, ErrTipNotFound)
	}
	return recs[e.Chunk].Tip(), nil
}

// Save writes the calibration of the named tip, reusing its record when one
// exists.
func (s *TipStore) Save(name string, tip calib.TipCalibration) error {
	idx := s.Index(name)
	if idx < 0 {
		return fmt.Errorf("%q: %w", name, ErrUnknownTip)
	}
	rec, err := NewTipRecord(name, tip)
	if err != nil {
		return err
	}
	recs, err := s.records()
	if err != nil {
		return err
	}

	chunk := s.table[idx].Chunk
	if chunk == NoChunk || int(chunk) >= len(recs) {
		if len(recs) >= int(NoChunk) {
			return ErrFull
		}
		chunk = uint8(len(recs))
		recs = append(recs, rec)
	} else {
		recs[chunk] = rec
	}

	data := make([]byte, 0, len(recs)*TipRecordSize)
	for _, r := range recs {
		b, err := r.MarshalBinary()
		if err != nil {
			return err
		}
		data = append(data, b...)
	}
	if err := s.rot.write(data); err != nil {
		return err
	}
	s.index(recs)
	s.log.Infow("tip saved", "name", name, "chunk", chunk, "calibration", tip.Calibration)
	return nil
}

// Activate marks the tip active, creating an uncalibrated record if needed.
func (s *TipStore) Activate(name string) error { return s.toggle(name, true) }

// Deactivate clears the active flag. The record itself is kept.
func (s *TipStore) Deactivate(name string) error { return s.toggle(name, false) }

func (s *TipStore) toggle(name string, active bool) error {
	tip, err := s.Load(name)
	if errors.Is(err, ErrTipNotFound) {
		if !active {
			return nil
		}
		dev := calib.Iron
		if name == GunTip {
			dev = calib.Gun
		}
		tip = calib.DefaultTip(dev)
	} else if err != nil {
		return err
	}
	if active {
		tip.Status |= calib.Active
	} else {
		tip.Status &^= calib.Active
	}
	return s.Save(name, tip)
}
