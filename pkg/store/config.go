package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/zap"

	"github.com/itohio/gostation/pkg/pid"
)

// ConfigRecord is the on-disk station configuration, little endian. The
// checksum comes first and covers the whole record with itself zeroed.
type ConfigRecord struct {
	CRC        uint16
	IronTemp   uint16 // Celsius
	GunTemp    uint16 // Celsius
	GunFan     uint16
	IronKp     uint16
	IronKi     uint16
	IronKd     uint16
	GunKp      uint16
	GunKi      uint16
	GunKd      uint16
	LowTemp    uint16 // Celsius, 0 disables the low power mode
	LowTimeout uint8  // seconds / 5
	OffTimeout uint8  // minutes, 0 disables
	Boost      uint8  // temperature increment and duration nibbles
	TipIndex   uint8
	Flags      uint16 // Options bit mask
}

// ConfigRecordSize is the encoded size of a ConfigRecord.
var ConfigRecordSize = binary.Size(ConfigRecord{})

// DefaultConfigRecord returns the factory configuration.
func DefaultConfigRecord() ConfigRecord {
	r := ConfigRecord{
		IronTemp:   235,
		GunTemp:    200,
		GunFan:     1200,
		LowTemp:    180,
		LowTimeout: 12,
		OffTimeout: 5,
		TipIndex:   1,
	}
	r.SetIronPID(pid.Params{Kp: 2300, Ki: 50, Kd: 735})
	r.SetGunPID(pid.Params{Kp: 200, Ki: 25, Kd: 20})
	r.SaveBoost(20, 60)
	r.SetOptions(Options{Celsius: true, Buzzer: true})
	return r
}

func (r ConfigRecord) IronPID() pid.Params { return pid.Params{Kp: r.IronKp, Ki: r.IronKi, Kd: r.IronKd} }
func (r ConfigRecord) GunPID() pid.Params  { return pid.Params{Kp: r.GunKp, Ki: r.GunKi, Kd: r.GunKd} }

func (r *ConfigRecord) SetIronPID(p pid.Params) { r.IronKp, r.IronKi, r.IronKd = p.Kp, p.Ki, p.Kd }
func (r *ConfigRecord) SetGunPID(p pid.Params)  { r.GunKp, r.GunKi, r.GunKd = p.Kp, p.Ki, p.Kd }

// SaveBoost packs the boost increment (5 degree steps up to 75) and duration
// (20 second steps from 20 to 320 seconds).
func (r *ConfigRecord) SaveBoost(temp, duration uint16) {
	t := min(temp/5, 15)
	duration = max(min(duration, 320), 20)
	r.Boost = uint8(t<<4 | (duration/20 - 1))
}

// BoostTemp returns the boost increment in degrees.
func (r ConfigRecord) BoostTemp() uint16 { return uint16(r.Boost>>4) * 5 }

// BoostDuration returns the boost duration in seconds.
func (r ConfigRecord) BoostDuration() uint16 { return (uint16(r.Boost&0x0F) + 1) * 20 }

func (r ConfigRecord) Options() Options      { return OptionsFromMask(r.Flags) }
func (r *ConfigRecord) SetOptions(o Options) { r.Flags = o.Mask() }

func (r ConfigRecord) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *ConfigRecord) UnmarshalBinary(b []byte) error {
	if len(b) != ConfigRecordSize {
		return fmt.Errorf("config record of %d bytes: %w", len(b), ErrSize)
	}
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, r)
}

// Checksum computes the record checksum.
func (r ConfigRecord) Checksum() uint16 {
	r.CRC = 0
	b, _ := r.MarshalBinary()
	s := uint16(117)
	for _, d := range b {
		s = s<<1 + uint16(d)
	}
	return s
}

// Seal stores the checksum.
func (r *ConfigRecord) Seal() { r.CRC = r.Checksum() }

// Valid reports whether the stored checksum matches.
func (r ConfigRecord) Valid() bool { return r.CRC == r.Checksum() }

func validConfig(data []byte) error {
	var r ConfigRecord
	if err := r.UnmarshalBinary(data); err != nil {
		return err
	}
	if !r.Valid() {
		return ErrChecksum
	}
	return nil
}

// ConfigStore keeps the active configuration and the spare copy last known to
// be on disk.
type ConfigStore struct {
	rot    rotation
	active ConfigRecord
	spare  ConfigRecord
	log    *zap.SugaredLogger
}

func NewConfigStore(fsys FS, log *zap.SugaredLogger) *ConfigStore {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ConfigStore{
		rot:    rotation{fs: fsys, current: ConfigFile, backup: ConfigBackupFile, log: log},
		active: DefaultConfigRecord(),
		log:    log,
	}
}

// Load reads the configuration. When neither file holds a valid record the
// factory defaults become active and the error is returned; the next Save
// writes them.
func (s *ConfigStore) Load() error {
	data, err := s.rot.load(validConfig)
	if err != nil {
		s.active = DefaultConfigRecord()
		s.spare = ConfigRecord{}
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Infow("no configuration, using defaults")
		} else {
			s.log.Warnw("configuration unreadable, using defaults", "error", err)
		}
		return err
	}
	var r ConfigRecord
	if err := r.UnmarshalBinary(data); err != nil {
		return err
	}
	s.active, s.spare = r, r
	return nil
}

// Config returns the active configuration.
func (s *ConfigStore) Config() ConfigRecord { return s.active }

// Update mutates the active configuration.
func (s *ConfigStore) Update(fn func(*ConfigRecord)) { fn(&s.active) }

// Dirty reports whether the active configuration differs from the saved one.
func (s *ConfigStore) Dirty() bool {
	a, s2 := s.active, s.spare
	a.CRC, s2.CRC = 0, 0
	return a != s2
}

// Save writes the active configuration unless it equals the saved copy. It
// reports whether anything was written.
func (s *ConfigStore) Save() (bool, error) {
	if !s.Dirty() {
		return false, nil
	}
	s.active.Seal()
	data, err := s.active.MarshalBinary()
	if err != nil {
		return false, err
	}
	if err := s.rot.write(data); err != nil {
		return false, err
	}
	s.spare = s.active
	s.log.Debugw("configuration saved")
	return true, nil
}
