// Command initshim is a small driver demonstrating the kernel's init
// contract (spec §6): the first user program reads three files under
// /etc/init/ — `shell` (absolute path plus argv on its first line),
// `shellenv` (one KEY=VALUE per line), and `welcome` (printed
// verbatim) — prints the welcome banner, installs the environment,
// and reports the resolved shell argv it would execv. execve itself
// is out of the core's scope (spec §9), so this shim stops short of
// actually replacing the process image and instead fork()s once to
// demonstrate the syscall surface end-to-end, then reports what it
// would have execv'd. Grounded on biscuit's cmd/ layout convention
// (mkfs.go builds its fixture tree the same procedural way) and the
// Astral original's init contract description.
package main

import (
	"fmt"
	"os"
	"strings"

	"astralkernel/fsops"
	"astralkernel/internal/pmm"
	"astralkernel/proc"
	"astralkernel/sched"
	"astralkernel/syscall"
	"astralkernel/tmpfs"
	"astralkernel/ustr"
	"astralkernel/vfs"
	"astralkernel/vm"
)

func main() {
	env := mustBuildEnv()
	initProc := mustSpawnInitProcess(env)

	welcome := mustReadFile(env, initProc, "/etc/init/welcome")
	os.Stdout.Write(welcome)

	shellEnv := mustReadFile(env, initProc, "/etc/init/shellenv")
	for _, line := range strings.Split(strings.TrimSpace(string(shellEnv)), "\n") {
		if line == "" {
			continue
		}
		fmt.Printf("installing env: %s\n", line)
	}

	shellLine := mustReadFile(env, initProc, "/etc/init/shell")
	argv := strings.Fields(strings.SplitN(string(shellLine), "\n", 2)[0])
	if len(argv) == 0 {
		fmt.Fprintln(os.Stderr, "initshim: empty /etc/init/shell, nothing to run")
		os.Exit(1)
	}

	child, errc := syscall.Fork(env, initProc, 0)
	if errc != 0 {
		fmt.Fprintf(os.Stderr, "initshim: fork failed: %v\n", errc)
		os.Exit(1)
	}

	fmt.Printf("forked pid %d; would execv %q with argv %v, then wait forever\n", child.PID, argv[0], argv)
}

// mustBuildEnv wires the in-memory kernel collaborators this shim
// drives: a physical-page allocator, a mapping cache, a scheduler, a
// tmpfs-backed VFS root, and the filesystem-name registry, mirroring
// the boot-time construction spec §9's "explicit kernel construction
// object" performs for real.
func mustBuildEnv() *syscall.Env {
	alloc := pmm.New(4096)
	cache := vm.NewCache(alloc, 32)

	v := vfs.New()
	registry := fsops.NewRegistry()
	registry.Register("tmpfs", tmpfs.FS{})

	ops, ok := registry.Lookup("tmpfs")
	if !ok {
		panic("initshim: tmpfs driver not registered")
	}
	if e := v.Mount(v.Root, nil, ustr.Ustr(""), ops, 0, nil); e != 0 {
		panic(fmt.Sprintf("initshim: tmpfs mount failed: %v", e))
	}

	return &syscall.Env{
		VFS:     v,
		FSOps:   registry,
		Sched:   sched.New(1),
		VMCache: cache,
		Alloc:   alloc,
		PIDs:    proc.NewPIDAllocator(),
	}
}

// mustSpawnInitProcess creates the init process and seeds its tmpfs
// root with the three init-contract files, as if they had shipped in
// the boot image.
func mustSpawnInitProcess(env *syscall.Env) *proc.Process {
	ctx := vm.NewContext(env.VMCache, env.Alloc)
	p := proc.New(env.PIDs, ctx)
	p.Root = env.VFS.Root
	p.Cwd = env.VFS.Root

	root := env.VFS.Root.Mount
	mustMkdirAll(root, "/etc")
	mustMkdirAll(root, "/etc/init")

	etcInit, e := env.VFS.ResolveDir(env.VFS.Root, ustr.Ustr("/etc/init"))
	if e != 0 {
		panic(fmt.Sprintf("initshim: resolving /etc/init failed: %v", e))
	}

	mustWriteFile(etcInit, "shell", []byte("/bin/shell -login\n"))
	mustWriteFile(etcInit, "shellenv", []byte("HOME=/root\nPATH=/bin\n"))
	mustWriteFile(etcInit, "welcome", []byte("Welcome to the machine.\n"))

	return p
}

func mustMkdirAll(root *vfs.DirNode, path string) {
	v := &vfs.VFS{Root: root}
	var built string
	for _, comp := range strings.Split(strings.Trim(path, "/"), "/") {
		built += "/" + comp
		if _, e := v.ResolveDir(root, ustr.Ustr(built)); e == 0 {
			continue
		}
		parent := root
		if idx := strings.LastIndex(strings.Trim(built, "/"), "/"); idx >= 0 {
			parentPath := "/" + strings.Trim(built, "/")[:idx]
			d, e := v.ResolveDir(root, ustr.Ustr(parentPath))
			if e != 0 {
				panic(fmt.Sprintf("initshim: resolving %q failed: %v", parentPath, e))
			}
			parent = d
		}
		if _, e := tmpfs.Create(parent, ustr.Ustr(comp), true, 0755); e != 0 {
			panic(fmt.Sprintf("initshim: mkdir %q failed: %v", built, e))
		}
	}
}

func mustWriteFile(dir *vfs.DirNode, name string, data []byte) {
	n, e := tmpfs.Create(dir, ustr.Ustr(name), false, 0644)
	if e != 0 {
		panic(fmt.Sprintf("initshim: create %q failed: %v", name, e))
	}
	if _, e := tmpfs.Write(n, 0, data); e != 0 {
		panic(fmt.Sprintf("initshim: write %q failed: %v", name, e))
	}
}

// mustReadFile opens path through the real syscall surface (openat
// under the hood) and reads it back to completion, the same path a
// user-mode init binary would take via open()+read().
func mustReadFile(env *syscall.Env, p *proc.Process, path string) []byte {
	ifd, e := syscall.Open(env, p, 0, ustr.Ustr(path), syscall.ORdonly, 0)
	if e != 0 {
		panic(fmt.Sprintf("initshim: open %q failed: %v", path, e))
	}

	slot, e := p.FDTable.Access(ifd)
	if e != 0 {
		panic(fmt.Sprintf("initshim: access %q failed: %v", path, e))
	}
	defer p.FDTable.Release(slot)

	node, ok := slot.Node.(*vfs.Node)
	if !ok {
		panic(fmt.Sprintf("initshim: %q did not resolve to a file", path))
	}

	size, e := tmpfs.Size(node)
	if e != 0 {
		panic(fmt.Sprintf("initshim: size %q failed: %v", path, e))
	}

	buf := make([]byte, size)
	if _, e := tmpfs.Read(node, 0, buf); e != 0 {
		panic(fmt.Sprintf("initshim: read %q failed: %v", path, e))
	}
	return buf
}
