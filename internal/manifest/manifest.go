// Package manifest encodes the per-site declaration of managed files.
//
// A manifest is a gzip stream of JSON lines: one header line followed by
// one entry per path, sorted by path so identical declarations produce
// identical bytes.
package manifest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/Ning0612/siteupdater/internal/domain"
)

// FileName is the object key of a site's manifest
const FileName = "db.json.gz"

// FormatVersion is the encoding revision written by this package
const FormatVersion = 1

// maxLineSize bounds a single JSON line
const maxLineSize = 1 << 20

// Header is the first line of a manifest
type Header struct {
	Format    int       `json:"format"`
	Site      string    `json:"site"`
	Version   int64     `json:"version"`
	Generated time.Time `json:"generated"`
}

// Entry is one record line
type Entry struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum,omitempty"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Obsolete  bool      `json:"obsolete,omitempty"`
}

// Manifest is a decoded site declaration
type Manifest struct {
	Header
	Records map[string]domain.SiteRecord
}

// New creates an empty manifest for site
func New(site string, version int64, generated time.Time) *Manifest {
	return &Manifest{
		Header: Header{
			Format:    FormatVersion,
			Site:      site,
			Version:   version,
			Generated: generated.UTC(),
		},
		Records: make(map[string]domain.SiteRecord),
	}
}

// Encode writes m to w
func Encode(w io.Writer, m *Manifest) error {
	zw, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(zw)

	header := m.Header
	header.Format = FormatVersion
	if err := enc.Encode(header); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	paths := make([]string, 0, len(m.Records))
	for p := range m.Records {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		r := m.Records[p]
		entry := Entry{
			Path:      p,
			Checksum:  r.Checksum,
			Version:   r.Version,
			Timestamp: r.Timestamp.UTC(),
			Obsolete:  r.Obsolete,
		}
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("encode %s: %w", p, err)
		}
	}
	return zw.Close()
}

// Marshal encodes m into a byte slice
func Marshal(m *Manifest) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a manifest from r. Any malformed content is reported as a
// *domain.ManifestCorruptionError for the site named by expectSite.
func Decode(r io.Reader, expectSite string) (*Manifest, error) {
	corrupt := func(err error) error {
		return &domain.ManifestCorruptionError{Site: expectSite, Err: err}
	}

	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, corrupt(err)
	}
	defer zr.Close()

	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, corrupt(err)
		}
		return nil, corrupt(errors.New("missing header"))
	}

	var header Header
	if err := json.Unmarshal(sc.Bytes(), &header); err != nil {
		return nil, corrupt(fmt.Errorf("header: %w", err))
	}
	if header.Format != FormatVersion {
		return nil, corrupt(fmt.Errorf("unsupported format %d", header.Format))
	}
	if expectSite != "" && header.Site != expectSite {
		return nil, corrupt(fmt.Errorf("manifest belongs to site %q", header.Site))
	}
	if header.Version < 0 {
		return nil, corrupt(fmt.Errorf("negative manifest version %d", header.Version))
	}

	m := &Manifest{Header: header, Records: make(map[string]domain.SiteRecord)}
	line := 1
	for sc.Scan() {
		line++
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, corrupt(fmt.Errorf("line %d: %w", line, err))
		}
		if err := validateEntry(e); err != nil {
			return nil, corrupt(fmt.Errorf("line %d: %w", line, err))
		}
		if _, dup := m.Records[e.Path]; dup {
			return nil, corrupt(fmt.Errorf("line %d: duplicate path %s", line, e.Path))
		}
		m.Records[e.Path] = domain.SiteRecord{
			Checksum:  e.Checksum,
			Version:   e.Version,
			Timestamp: e.Timestamp,
			Obsolete:  e.Obsolete,
		}
	}
	if err := sc.Err(); err != nil {
		return nil, corrupt(err)
	}
	return m, nil
}

// Unmarshal decodes a manifest from data
func Unmarshal(data []byte, expectSite string) (*Manifest, error) {
	return Decode(bytes.NewReader(data), expectSite)
}

func validateEntry(e Entry) error {
	if e.Path == "" {
		return errors.New("empty path")
	}
	if e.Version <= 0 {
		return fmt.Errorf("%s: version must be positive", e.Path)
	}
	if !e.Obsolete && e.Checksum == "" {
		return fmt.Errorf("%s: live record without checksum", e.Path)
	}
	return nil
}
