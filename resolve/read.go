package resolve

import (
	"os"

	"github.com/edsrzf/mmap-go"
	"go.uber.org/zap"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/model"
)

// Read strategy names accepted by Strategy.
const (
	StrategyFile = "file"
	StrategyMmap = "mmap"
)

// ReadFile reads the whole file into memory.
func ReadFile(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrap(errors.PhaseLoad, errors.KindNotFound, err, path)
	}
	return data, nil, nil
}

// ReadMapped maps the file read-only. The mapping is released when the
// module is closed, so the module must not be used afterwards.
func ReadMapped(path string) ([]byte, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(errors.PhaseLoad, errors.KindNotFound, err, path)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, path)
	}
	// Zero-length mappings are rejected by the OS.
	if fi.Size() == 0 {
		return []byte{}, nil, nil
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "map "+path)
	}
	Logger().Debug("file mapped", zap.String("path", path), zap.Int64("size", fi.Size()))
	return m, m.Unmap, nil
}

// Strategy returns the read strategy registered under name.
func Strategy(name string) (model.ReadStrategy, error) {
	switch name {
	case "", StrategyFile:
		return ReadFile, nil
	case StrategyMmap:
		return ReadMapped, nil
	}
	return nil, errors.InvalidInput(errors.PhaseLoad, "unknown read strategy "+name)
}
