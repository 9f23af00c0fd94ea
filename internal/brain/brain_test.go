package brain

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	logx "remindbot/pkg/logx"
)

func TestOpenSelectsDriver(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "default is file", cfg: Config{Path: filepath.Join(dir, "brain")}},
		{name: "explicit file", cfg: Config{Driver: "file", Path: filepath.Join(dir, "brain2")}},
		{name: "memory", cfg: Config{Driver: "memory"}},
		{name: "file needs path", cfg: Config{Driver: "file"}, wantErr: true},
		{name: "unknown driver", cfg: Config{Driver: "redis"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Open(tc.cfg, logx.Nop())
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			_ = s.Close()
		})
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "brain")

	s, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, ok, err := s.Load(ctx, "jobs"); err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v, want absent", ok, err)
	}

	want := []byte(`{"jobs":[],"next_id":4}`)
	if err := s.Save(ctx, "jobs", want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A fresh store over the same path sees the snapshot.
	s2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, ok, err := s2.Load(ctx, "jobs")
	if err != nil || !ok {
		t.Fatalf("Load after reopen: ok=%v err=%v", ok, err)
	}
	if string(got) != string(want) {
		t.Fatalf("Load = %q, want %q", got, want)
	}
}

func TestFileStoreClosed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "brain")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Save(ctx, "jobs", []byte("{}")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Save after close = %v, want ErrClosed", err)
	}
	if _, _, err := s.Load(ctx, "jobs"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Load after close = %v, want ErrClosed", err)
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()
	defer s.Close()

	buf := []byte(`{"a":1}`)
	if err := s.Save(ctx, "k", buf); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Mutating the caller's slice must not reach the stored copy.
	buf[2] = 'b'

	got, ok, err := s.Load(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if string(got) != `{"a":1}` {
		t.Fatalf("stored value aliased caller buffer: %q", got)
	}

	// And mutating a loaded slice must not poison later loads.
	got[2] = 'c'
	again, _, _ := s.Load(ctx, "k")
	if string(again) != `{"a":1}` {
		t.Fatalf("loaded value aliases store: %q", again)
	}
}

func TestSanitizeKey(t *testing.T) {
	t.Parallel()
	cases := []struct{ in, want string }{
		{"jobs", "jobs"},
		{"", "default"},
		{"  ", "default"},
		{"a/b c", "a_b_c"},
		{"UPPER-ok_9", "UPPER-ok_9"},
	}
	for _, tc := range cases {
		if got := sanitizeKey(tc.in); got != tc.want {
			t.Errorf("sanitizeKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
