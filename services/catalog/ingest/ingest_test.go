package ingest

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"bootmedia/pkg/unpack"
)

// fakeCatalog records reservations and updates in memory.
type fakeCatalog struct {
	mu           sync.Mutex
	reservations []Reservation
	ids          []uuid.UUID
	updates      map[uuid.UUID][]Update
	reserveErr   error
	updateErr    error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{updates: make(map[uuid.UUID][]Update)}
}

func (f *fakeCatalog) ReserveAsset(_ context.Context, res Reservation) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserveErr != nil {
		return uuid.Nil, f.reserveErr
	}
	for _, existing := range f.reservations {
		if existing.StoragePath == res.StoragePath || existing.Filename == res.Filename {
			return uuid.Nil, ErrConflict
		}
	}
	f.reservations = append(f.reservations, res)
	id := uuid.New()
	f.ids = append(f.ids, id)
	return id, nil
}

func (f *fakeCatalog) lastID() uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return uuid.Nil
	}
	return f.ids[len(f.ids)-1]
}

func (f *fakeCatalog) UpdateAsset(_ context.Context, id uuid.UUID, upd Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates[id] = append(f.updates[id], upd)
	return nil
}

func (f *fakeCatalog) lastUpdate(id uuid.UUID) (Update, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ups := f.updates[id]
	if len(ups) == 0 {
		return Update{}, false
	}
	return ups[len(ups)-1], true
}

func TestDeriveFilename(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		display  string
		want     string
		wantKind unpack.Kind
		wantErr  bool
	}{
		{
			name:     "plain iso",
			url:      "https://releases.example.com/24.04/ubuntu.iso",
			display:  "ubuntu",
			want:     "ubuntu.iso",
			wantKind: unpack.KindNone,
		},
		{
			name:     "gzip envelope stripped",
			url:      "https://mirror.example.com/x.iso.gz",
			display:  "x",
			want:     "x.iso",
			wantKind: unpack.KindGzip,
		},
		{
			name:     "bzip2 envelope stripped",
			url:      "https://example/x.iso.bz2",
			display:  "ubuntu",
			want:     "x.iso",
			wantKind: unpack.KindBzip2,
		},
		{
			name:     "zstd envelope stripped",
			url:      "https://mirror.example.com/img.iso.zst",
			display:  "img",
			want:     "img.iso",
			wantKind: unpack.KindZstd,
		},
		{
			name:     "fallback to display name",
			url:      "https://mirror.example.com/download?id=42",
			display:  "Rocky Linux 9",
			want:     "Rocky_Linux_9.iso",
			wantKind: unpack.KindNone,
		},
		{
			name:     "compressed tail without iso stem keeps envelope, names from display",
			url:      "https://mirror.example.com/images/rootfs.gz",
			display:  "Edge Appliance",
			want:     "Edge_Appliance.iso",
			wantKind: unpack.KindGzip,
		},
		{
			name:    "no tail and no display name",
			url:     "https://mirror.example.com/",
			display: "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, kind, err := DeriveFilename(tt.url, tt.display)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DeriveFilename() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got != tt.want {
				t.Fatalf("DeriveFilename() = %q, want %q", got, tt.want)
			}
			if kind != tt.wantKind {
				t.Fatalf("DeriveFilename() kind = %v, want %v", kind, tt.wantKind)
			}
		})
	}
}

func TestIsSentinel(t *testing.T) {
	for _, s := range []string{SentinelProcessing, SentinelDownloading, SentinelError} {
		if !IsSentinel(s) {
			t.Fatalf("IsSentinel(%q) = false, want true", s)
		}
	}
	if IsSentinel("0a1b2c") {
		t.Fatal("digest misclassified as sentinel")
	}
}
