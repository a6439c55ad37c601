package tmpfs

import (
	"testing"

	"astralkernel/errno"
	"astralkernel/ustr"
	"astralkernel/vfs"
)

func u(s string) ustr.Ustr { return ustr.Ustr(s) }

func TestMountCreateOpenRoundTrip(t *testing.T) {
	root, e := FS{}.Mount(nil, 0, nil)
	if e != 0 {
		t.Fatalf("mount failed: %v", e)
	}

	if _, e := Create(root, u("hello"), false, 0644); e != 0 {
		t.Fatalf("create failed: %v", e)
	}

	v := vfs.VFS{Root: root}
	n, e := v.Resolve(root, u("hello"))
	if e != 0 {
		t.Fatalf("resolve after create failed: %v", e)
	}
	if n.Type != vfs.TypeFile {
		t.Fatalf("expected a file node, got %+v", n)
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	root, _ := FS{}.Mount(nil, 0, nil)
	if _, e := Create(root, u("a"), false, 0644); e != 0 {
		t.Fatalf("first create failed: %v", e)
	}
	if _, e := Create(root, u("a"), false, 0644); e != errno.EEXIST {
		t.Fatalf("expected EEXIST on duplicate create, got %v", e)
	}
}

// S6: a file created with mode 0644 reports that mode back.
func TestCreateStoresMode(t *testing.T) {
	root, _ := FS{}.Mount(nil, 0, nil)
	n, e := Create(root, u("perm"), false, 0644&^0022)
	if e != 0 {
		t.Fatalf("create failed: %v", e)
	}
	mode, e := Mode(n)
	if e != 0 {
		t.Fatalf("mode lookup failed: %v", e)
	}
	if mode != 0644&^0022 {
		t.Fatalf("expected mode %o, got %o", 0644&^0022, mode)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	root, _ := FS{}.Mount(nil, 0, nil)
	n, e := Create(root, u("data"), false, 0644)
	if e != 0 {
		t.Fatalf("create failed: %v", e)
	}

	payload := []byte("hello tmpfs")
	if nw, e := Write(n, 0, payload); e != 0 || nw != len(payload) {
		t.Fatalf("write failed: n=%d err=%v", nw, e)
	}

	buf := make([]byte, len(payload))
	if nr, e := Read(n, 0, buf); e != 0 || nr != len(payload) {
		t.Fatalf("read failed: n=%d err=%v", nr, e)
	}
	if string(buf) != string(payload) {
		t.Fatalf("round trip mismatch: got %q want %q", buf, payload)
	}

	size, e := Size(n)
	if e != 0 || size != int64(len(payload)) {
		t.Fatalf("size mismatch: %d err=%v", size, e)
	}
}

func TestCreateDirectoryResolvesAsDir(t *testing.T) {
	root, _ := FS{}.Mount(nil, 0, nil)
	if _, e := Create(root, u("etc"), true, 0755); e != 0 {
		t.Fatalf("mkdir failed: %v", e)
	}

	v := vfs.VFS{Root: root}
	etcNode, e := v.Resolve(root, u("etc"))
	if e != 0 || etcNode.Type != vfs.TypeDir {
		t.Fatalf("expected a directory node, got %+v err=%v", etcNode, e)
	}

	d, e := v.Resolve(root, u("etc"))
	_ = d
	if e != 0 {
		t.Fatalf("resolve etc failed: %v", e)
	}
}
