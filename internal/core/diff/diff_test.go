package diff

import (
	"testing"

	"github.com/Ning0612/siteupdater/internal/domain"
)

func TestCompare(t *testing.T) {
	comparer := NewDefaultComparer()

	tests := []struct {
		name         string
		local        string
		localVersion int64
		baseline     string
		remote       domain.SiteRecord
		want         Change
	}{
		{
			name:         "identical content",
			local:        "aaa",
			localVersion: 1,
			baseline:     "aaa",
			remote:       domain.SiteRecord{Checksum: "aaa", Version: 1},
			want:         Identical,
		},
		{
			name:         "identical content with newer remote version",
			local:        "aaa",
			localVersion: 1,
			baseline:     "aaa",
			remote:       domain.SiteRecord{Checksum: "aaa", Version: 4},
			want:         Identical,
		},
		{
			name:         "local edited after install",
			local:        "bbb",
			localVersion: 1,
			baseline:     "aaa",
			remote:       domain.SiteRecord{Checksum: "aaa", Version: 1},
			want:         LocalChanged,
		},
		{
			name:         "remote update arrived",
			local:        "aaa",
			localVersion: 1,
			baseline:     "aaa",
			remote:       domain.SiteRecord{Checksum: "ccc", Version: 2},
			want:         RemoteChanged,
		},
		{
			name:         "both sides moved",
			local:        "bbb",
			localVersion: 1,
			baseline:     "aaa",
			remote:       domain.SiteRecord{Checksum: "ccc", Version: 2},
			want:         BothChanged,
		},
		{
			name:         "local ahead of an older remote",
			local:        "bbb",
			localVersion: 3,
			baseline:     "bbb",
			remote:       domain.SiteRecord{Checksum: "aaa", Version: 1},
			want:         LocalAhead,
		},
		{
			name:         "never installed",
			local:        "bbb",
			localVersion: 0,
			baseline:     "",
			remote:       domain.SiteRecord{Checksum: "aaa", Version: 5},
			want:         LocalChanged,
		},
		{
			name:         "remote reverted to baseline content",
			local:        "bbb",
			localVersion: 1,
			baseline:     "aaa",
			remote:       domain.SiteRecord{Checksum: "aaa", Version: 3},
			want:         LocalChanged,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := &domain.LocalState{Checksum: tt.local}
			got := comparer.Compare(local, tt.localVersion, tt.baseline, tt.remote)
			if got != tt.want {
				t.Errorf("Compare() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChangeString(t *testing.T) {
	if BothChanged.String() != "both-changed" {
		t.Errorf("unexpected name %q", BothChanged.String())
	}
	if Change(42).String() != "unknown" {
		t.Errorf("unexpected name %q", Change(42).String())
	}
}
