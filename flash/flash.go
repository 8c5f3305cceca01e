// Package flash persists the program and the name tables across
// reboots. The program file is a little-endian u16 length followed by
// raw 16-byte steps; each name file is a raw 6x40-byte ASCII table,
// the same images the device keeps in flash.
package flash

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/WroblewskiAdam/column-stripper/core"
)

const (
	programFile = "program.bin"
	reagentFile = "reagent_config.bin"
	columnFile  = "column_config.bin"
)

// Store reads and writes the persisted device files under one
// directory. Load errors are logged and degrade to defaults; the boot
// continues either way.
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore creates the directory if needed.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// SaveProgram writes the step store.
func (s *Store) SaveProgram(p *core.Program) error {
	n := p.Length()
	buf := make([]byte, 2, 2+int(n)*core.ProgramStepSize)
	binary.LittleEndian.PutUint16(buf, n)
	buf = append(buf, p.ReadBlock(0, n)...)
	if err := os.WriteFile(s.path(programFile), buf, 0o644); err != nil {
		return fmt.Errorf("writing program file: %w", err)
	}
	s.logger.Info("program saved", zap.Uint16("steps", n))
	return nil
}

// LoadProgram fills p from the program file. A missing file or an
// over-capacity length leaves the program empty.
func (s *Store) LoadProgram(p *core.Program) {
	buf, err := os.ReadFile(s.path(programFile))
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("program file not found, starting empty")
		return
	}
	if err != nil {
		s.logger.Error("reading program file", zap.Error(err))
		return
	}
	if len(buf) < 2 {
		s.logger.Warn("program file truncated, starting empty")
		return
	}
	n := binary.LittleEndian.Uint16(buf)
	if n > core.ProgramMaxLen || len(buf) < 2+int(n)*core.ProgramStepSize {
		s.logger.Warn("program file invalid, starting empty", zap.Uint16("length", n))
		return
	}
	p.Clear()
	for i := uint16(0); i < n; i++ {
		step := core.DecodeStep(buf[2+int(i)*core.ProgramStepSize:])
		if err := p.WriteAt(i, step); err != nil {
			s.logger.Error("loading program step", zap.Uint16("idx", i), zap.Error(err))
			return
		}
	}
	s.logger.Info("program loaded", zap.Uint16("steps", n))
}

// SaveNames writes both name tables.
func (s *Store) SaveNames(p *core.Program) error {
	if err := os.WriteFile(s.path(reagentFile), p.Reagents(), 0o644); err != nil {
		return fmt.Errorf("writing reagent names: %w", err)
	}
	if err := os.WriteFile(s.path(columnFile), p.Columns(), 0o644); err != nil {
		return fmt.Errorf("writing column names: %w", err)
	}
	return nil
}

// LoadNames fills the name tables, keeping the built-in defaults for
// any file that is missing or short.
func (s *Store) LoadNames(p *core.Program) {
	if buf, err := os.ReadFile(s.path(reagentFile)); err == nil && len(buf) == core.NameTableSize {
		p.SetReagents(buf)
	} else if !errors.Is(err, os.ErrNotExist) && err != nil {
		s.logger.Error("reading reagent names", zap.Error(err))
	}
	if buf, err := os.ReadFile(s.path(columnFile)); err == nil && len(buf) == core.NameTableSize {
		p.SetColumns(buf)
	} else if !errors.Is(err, os.ErrNotExist) && err != nil {
		s.logger.Error("reading column names", zap.Error(err))
	}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}
