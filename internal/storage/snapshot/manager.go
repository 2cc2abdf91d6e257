package snapshot

import (
	"bufio"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid/v2"

	"github.com/yndnr/nestkv/pkg/value"
)

const (
	tempSuffix = ".tmp"

	DefaultFilePerm = 0600
	DefaultDirPerm  = 0750
)

var (
	ErrNotFound = errors.New("snapshot: not found")
	ErrNotMap   = errors.New("snapshot: top-level value is not a map")
)

// Config configures the snapshot manager.
type Config struct {
	// Path is the base path; the snapshot file is Path plus the
	// compression suffix.
	Path        string
	Compression Compression

	Logger *slog.Logger
}

// DefaultConfig returns an uncompressed configuration for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:        path,
		Compression: CompressionNone,
		Logger:      slog.Default(),
	}
}

// Manager writes snapshots for one base path and loads them back.
type Manager struct {
	cfg    Config
	logger *slog.Logger
}

// NewManager validates cfg, creates the parent directory and removes
// temporary files left behind by an interrupted write.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("snapshot: path is required")
	}
	if cfg.Compression == "" {
		cfg.Compression = CompressionNone
	}
	if _, err := ParseCompression(string(cfg.Compression)); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}

	m := &Manager{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "snapshot"),
	}
	m.removeTemp()
	return m, nil
}

// Info describes a snapshot file.
type Info struct {
	ID          string      `json:"id,omitempty"`
	Path        string      `json:"path"`
	Compression Compression `json:"compression"`
	Keys        int         `json:"keys"`
	Size        int64       `json:"size"`
	ModTime     time.Time   `json:"mod_time"`
}

// PathFor returns the snapshot file name for base encoded with c.
func PathFor(base string, c Compression) string {
	return base + c.Suffix()
}

// Path returns the snapshot file name for the configured compression.
func (m *Manager) Path() string {
	return PathFor(m.cfg.Path, m.cfg.Compression)
}

// Compression returns the configured compression.
func (m *Manager) Compression() Compression {
	return m.cfg.Compression
}

// NewID returns a time-ordered identifier for a snapshot or checkpoint.
func NewID(t time.Time) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Write atomically replaces the snapshot with state. Once the new file is
// in place, snapshot files left under other compressions are removed; a
// failure to remove one fails the write, since a later Load with that
// compression could otherwise pick it up.
func (m *Manager) Write(state value.Map) (*Info, error) {
	start := time.Now()
	id, err := NewID(start)
	if err != nil {
		return nil, fmt.Errorf("snapshot: generate id: %w", err)
	}

	tmp := m.cfg.Path + "." + id + tempSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, DefaultFilePerm)
	if err != nil {
		return nil, fmt.Errorf("snapshot: create temp file: %w", err)
	}
	defer os.Remove(tmp)

	if err := m.encode(f, state); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("snapshot: sync: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("snapshot: stat: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("snapshot: close: %w", err)
	}

	final := m.Path()
	if err := os.Rename(tmp, final); err != nil {
		return nil, fmt.Errorf("snapshot: rename: %w", err)
	}
	if err := syncDir(filepath.Dir(final)); err != nil {
		return nil, fmt.Errorf("snapshot: sync dir: %w", err)
	}
	if err := m.removeStale(); err != nil {
		return nil, err
	}

	info := &Info{
		ID:          id,
		Path:        final,
		Compression: m.cfg.Compression,
		Keys:        len(state),
		Size:        stat.Size(),
		ModTime:     stat.ModTime(),
	}
	m.logger.Debug("snapshot written",
		"id", id,
		"path", final,
		"keys", info.Keys,
		"size", humanize.IBytes(uint64(info.Size)),
		"elapsed", time.Since(start),
	)
	return info, nil
}

func (m *Manager) encode(w io.Writer, state value.Map) error {
	data, err := state.MarshalJSON()
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}

	bw := bufio.NewWriter(w)
	cw, err := NewWriter(bw, m.cfg.Compression)
	if err != nil {
		return err
	}
	if _, err := cw.Write(data); err != nil {
		cw.Close()
		return fmt.Errorf("snapshot: write: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("snapshot: finish %s stream: %w", m.cfg.Compression, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("snapshot: write: %w", err)
	}
	return nil
}

// Load reads the newest snapshot, whatever its compression. Between
// files of the same age the configured compression wins. ErrNotFound is
// returned when there is no snapshot at all.
func (m *Manager) Load() (value.Map, *Info, error) {
	infos, err := m.List()
	if err != nil {
		return nil, nil, err
	}
	if len(infos) == 0 {
		return nil, nil, ErrNotFound
	}

	info := infos[0]
	if info.Compression != m.cfg.Compression {
		m.logger.Warn("newest snapshot uses another compression",
			"want", m.cfg.Compression,
			"path", info.Path,
			"others", len(infos)-1,
		)
	}

	state, err := ReadFile(info.Path, info.Compression)
	if err != nil {
		return nil, nil, err
	}
	info.Keys = len(state)
	return state, info, nil
}

// List returns the snapshot files present for the base path, newest
// first. Files with the same modification time list the configured
// compression first.
func (m *Manager) List() ([]*Info, error) {
	var infos []*Info
	for _, c := range Compressions {
		p := PathFor(m.cfg.Path, c)
		st, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("snapshot: stat %s: %w", p, err)
		}
		if st.IsDir() {
			continue
		}
		infos = append(infos, &Info{
			Path:        p,
			Compression: c,
			Size:        st.Size(),
			ModTime:     st.ModTime(),
		})
	}

	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].ModTime.Equal(infos[j].ModTime) {
			return infos[i].ModTime.After(infos[j].ModTime)
		}
		return infos[i].Compression == m.cfg.Compression
	})
	return infos, nil
}

// ReadFile decodes the snapshot at path encoded with c. A snapshot holding
// JSON null decodes as an empty map.
func ReadFile(path string, c Compression) (value.Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open: %w", err)
	}
	defer f.Close()

	r, err := NewReader(bufio.NewReader(f), c)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %s: %w", path, err)
	}
	defer r.Close()

	v, err := value.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("snapshot: decode %s: %w", path, err)
	}
	switch v.Kind() {
	case value.KindNull:
		return value.Map{}, nil
	case value.KindMap:
		return v.MustMap(), nil
	default:
		return nil, fmt.Errorf("%w: %s holds %s", ErrNotMap, path, v.Kind())
	}
}

func (m *Manager) removeStale() error {
	var errs []error
	for _, c := range Compressions {
		if c == m.cfg.Compression {
			continue
		}
		p := PathFor(m.cfg.Path, c)
		if err := os.Remove(p); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Errorf("snapshot: remove stale %s: %w", p, err))
			}
			continue
		}
		m.logger.Info("removed stale snapshot", "path", p)
	}
	return errors.Join(errs...)
}

func (m *Manager) removeTemp() {
	dir, base := filepath.Split(m.cfg.Path)
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, base+".") || !strings.HasSuffix(name, tempSuffix) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, base+"."), tempSuffix)
		if _, err := ulid.ParseStrict(id); err != nil {
			continue
		}
		p := filepath.Join(dir, name)
		if err := os.Remove(p); err == nil {
			m.logger.Info("removed incomplete snapshot", "path", p)
		}
	}
}

// syncDir fsyncs a directory so a rename inside it is durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return err
	}
	return nil
}
