package vectorindex

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"ragqa/internal/domain"
)

const (
	fileMagic   = "RAGQAIDX"
	fileVersion = 1
)

// envelope wraps the gob-encoded snapshot with the header needed to
// validate it before decoding.
type envelope struct {
	Version   int
	Dimension int
	Count     int
	Checksum  uint64
	Payload   []byte
}

// FileStore keeps a snapshot in a single file. Saves go to a temporary
// file in the same directory which is renamed over the target, so readers
// see either the previous or the new index.
type FileStore struct {
	path string
}

// NewFileStore returns a store writing to path.
func NewFileStore(path string) *FileStore { return &FileStore{path: path} }

// Path returns the target file path.
func (s *FileStore) Path() string { return s.path }

// Save writes snap atomically.
func (s *FileStore) Save(ctx context.Context, snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(snap); err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	env := envelope{
		Version:   fileVersion,
		Dimension: snap.Dimension,
		Count:     len(snap.Entries),
		Checksum:  xxhash.Sum64(payload.Bytes()),
		Payload:   payload.Bytes(),
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.WriteString(tmp, fileMagic); err != nil {
		tmp.Close()
		return err
	}
	if err := gob.NewEncoder(tmp).Encode(env); err != nil {
		tmp.Close()
		return fmt.Errorf("write index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

// Load reads and validates the snapshot.
func (s *FileStore) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, fmt.Errorf("%w: %s", domain.ErrNotFound, s.path)
		}
		return Snapshot{}, err
	}
	defer f.Close()

	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(f, magic); err != nil || string(magic) != fileMagic {
		return Snapshot{}, fmt.Errorf("%w: %s: bad magic", domain.ErrCorruptIndex, s.path)
	}
	var env envelope
	if err := gob.NewDecoder(f).Decode(&env); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s: %v", domain.ErrCorruptIndex, s.path, err)
	}
	if env.Version != fileVersion {
		return Snapshot{}, fmt.Errorf("%w: %s: unsupported version %d", domain.ErrCorruptIndex, s.path, env.Version)
	}
	if xxhash.Sum64(env.Payload) != env.Checksum {
		return Snapshot{}, fmt.Errorf("%w: %s: checksum mismatch", domain.ErrCorruptIndex, s.path)
	}
	var snap Snapshot
	if err := gob.NewDecoder(bytes.NewReader(env.Payload)).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s: %v", domain.ErrCorruptIndex, s.path, err)
	}
	if snap.Dimension != env.Dimension || len(snap.Entries) != env.Count {
		return Snapshot{}, fmt.Errorf("%w: %s: header does not match payload", domain.ErrCorruptIndex, s.path)
	}
	if err := snap.Validate(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

var _ Store = (*FileStore)(nil)
