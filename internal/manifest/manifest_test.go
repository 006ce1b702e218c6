package manifest

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/siteupdater/internal/domain"
)

func gz(t *testing.T, lines string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(lines))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestMarshal_RoundTripAndOrder(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := New("default", 7, ts)
	m.Records["macros/b.ijm"] = domain.SiteRecord{Checksum: "bb", Version: 2, Timestamp: ts}
	m.Records["macros/a.ijm"] = domain.SiteRecord{Checksum: "aa", Version: 1, Timestamp: ts}
	m.Records["jars/old.jar"] = domain.SiteRecord{Version: 3, Timestamp: ts, Obsolete: true}

	data, err := Marshal(m)
	require.NoError(t, err)

	got, err := Unmarshal(data, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Version)
	assert.Equal(t, "default", got.Site)
	assert.True(t, got.Generated.Equal(ts))
	require.Len(t, got.Records, 3)
	assert.True(t, got.Records["jars/old.jar"].Obsolete)
	assert.Equal(t, "bb", got.Records["macros/b.ijm"].Checksum)

	again, err := Marshal(got)
	require.NoError(t, err)
	assert.Equal(t, data, again, "encoding must be deterministic")

	zr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	var plain bytes.Buffer
	_, err = plain.ReadFrom(zr)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(plain.Bytes()), []byte("\n"))
	require.Len(t, lines, 4)
	assert.Contains(t, string(lines[1]), "jars/old.jar")
	assert.Contains(t, string(lines[3]), "macros/b.ijm")
}

func TestUnmarshal_Corrupt(t *testing.T) {
	header := `{"format":1,"site":"default","version":1,"generated":"2024-01-01T00:00:00Z"}` + "\n"

	tests := []struct {
		name string
		data []byte
	}{
		{"not gzip", []byte("plain text")},
		{"empty stream", gz(t, "")},
		{"bad header", gz(t, "{nope\n")},
		{"unknown format", gz(t, `{"format":9,"site":"default","version":1}`+"\n")},
		{"wrong site", gz(t, `{"format":1,"site":"other","version":1}`+"\n")},
		{"bad entry", gz(t, header+"{broken\n")},
		{"zero version", gz(t, header+`{"path":"a","checksum":"x","version":0}`+"\n")},
		{"live without checksum", gz(t, header+`{"path":"a","version":1}`+"\n")},
		{"duplicate path", gz(t, header+`{"path":"a","checksum":"x","version":1}`+"\n"+`{"path":"a","checksum":"y","version":2}`+"\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.data, "default")
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrManifestCorrupt))

			var mce *domain.ManifestCorruptionError
			require.True(t, errors.As(err, &mce))
			assert.Equal(t, "default", mce.Site)
		})
	}
}

func TestUnmarshal_TombstoneWithoutChecksum(t *testing.T) {
	data := gz(t, `{"format":1,"site":"s","version":2,"generated":"2024-01-01T00:00:00Z"}`+"\n"+
		`{"path":"gone.txt","version":4,"timestamp":"2024-01-01T00:00:00Z","obsolete":true}`+"\n\n")

	m, err := Unmarshal(data, "s")
	require.NoError(t, err)
	rec, ok := m.Records["gone.txt"]
	require.True(t, ok)
	assert.True(t, rec.Obsolete)
	assert.Equal(t, int64(4), rec.Version)
}
