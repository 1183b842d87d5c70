package identity_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tenantrun/internal/identity"
)

const tcpHeader = "  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode"

func tcpLine(slot int, local, remote string, uid, inode int) string {
	return fmt.Sprintf("   %d: %s %s 01 00000000:00000000 00:00000000 00000000 %5d        0 %d 1 0000000000000000 20 4 30 10 -1",
		slot, local, remote, uid, inode)
}

type procFixture struct {
	root string
	t    *testing.T
}

func newProcFixture(t *testing.T) *procFixture {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "net"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return &procFixture{root: root, t: t}
}

func (f *procFixture) table(name string, lines ...string) {
	f.t.Helper()
	content := tcpHeader + "\n"
	if len(lines) > 0 {
		content += strings.Join(lines, "\n") + "\n"
	}
	if err := os.WriteFile(filepath.Join(f.root, "net", name), []byte(content), 0o644); err != nil {
		f.t.Fatalf("write %s: %v", name, err)
	}
}

// process creates /proc/<pid> holding socket inodes, owned by uid.
func (f *procFixture) process(pid, uid int, inodes ...int) {
	f.t.Helper()
	dir := filepath.Join(f.root, fmt.Sprint(pid))
	if err := os.MkdirAll(filepath.Join(dir, "fd"), 0o755); err != nil {
		f.t.Fatalf("mkdir: %v", err)
	}
	status := fmt.Sprintf("Name:\tpython\nUid:\t%d\t%d\t%d\t%d\nGid:\t%d\t%d\t%d\t%d\n", uid, uid, uid, uid, uid, uid, uid, uid)
	if err := os.WriteFile(filepath.Join(dir, "status"), []byte(status), 0o644); err != nil {
		f.t.Fatalf("write status: %v", err)
	}
	if err := os.Symlink("/dev/null", filepath.Join(dir, "fd", "0")); err != nil {
		f.t.Fatalf("symlink: %v", err)
	}
	for i, inode := range inodes {
		target := fmt.Sprintf("socket:[%d]", inode)
		if err := os.Symlink(target, filepath.Join(dir, "fd", fmt.Sprint(i+3))); err != nil {
			f.t.Fatalf("symlink: %v", err)
		}
	}
}

func (f *procFixture) resolver() *identity.ProcResolver {
	f.t.Helper()
	r, err := identity.NewProcResolver(f.root, newFakeUsers(alice, bob))
	if err != nil {
		f.t.Fatalf("resolver: %v", err)
	}
	return r
}

func resolve(t *testing.T, r identity.Resolver, remote string) (string, bool) {
	t.Helper()
	ep, err := identity.ParseEndpoint(remote)
	if err != nil {
		t.Fatalf("endpoint: %v", err)
	}
	tenant, ok := r.Resolve(context.Background(), identity.Peer{Endpoint: ep})
	return tenant.Name, ok
}

// 127.0.0.1:54321 (0xD431) connected to the service on 127.0.0.1:9669 (0x25C5)
const (
	clientV4 = "0100007F:D431"
	serverV4 = "0100007F:25C5"
)

func TestProcResolverUsesOwningProcess(t *testing.T) {
	f := newProcFixture(t)
	f.table("tcp",
		tcpLine(0, serverV4, clientV4, 0, 9000),
		tcpLine(1, clientV4, serverV4, 0, 5001),
	)
	f.table("tcp6")
	f.process(1, 0, 9000)
	f.process(4242, 1001, 5001)

	name, ok := resolve(t, f.resolver(), "127.0.0.1:54321")
	if !ok || name != "alice" {
		t.Fatalf("got %q,%v", name, ok)
	}
}

func TestProcResolverFallsBackToSocketUID(t *testing.T) {
	f := newProcFixture(t)
	f.table("tcp", tcpLine(0, clientV4, serverV4, 1002, 5001))
	f.table("tcp6")

	name, ok := resolve(t, f.resolver(), "127.0.0.1:54321")
	if !ok || name != "bob" {
		t.Fatalf("got %q,%v", name, ok)
	}
}

func TestProcResolverLastMatchWins(t *testing.T) {
	f := newProcFixture(t)
	f.table("tcp",
		tcpLine(0, clientV4, serverV4, 1001, 0),
		tcpLine(1, clientV4, "0100007F:0050", 1002, 0),
	)
	f.table("tcp6")

	name, ok := resolve(t, f.resolver(), "127.0.0.1:54321")
	if !ok || name != "bob" {
		t.Fatalf("got %q,%v", name, ok)
	}
}

func TestProcResolverIPv4MappedSocket(t *testing.T) {
	f := newProcFixture(t)
	f.table("tcp")
	f.table("tcp6",
		tcpLine(0, "0000000000000000FFFF00000100007F:D431", "0000000000000000FFFF00000100007F:25C5", 1001, 7001),
	)

	name, ok := resolve(t, f.resolver(), "127.0.0.1:54321")
	if !ok || name != "alice" {
		t.Fatalf("got %q,%v", name, ok)
	}
}

func TestProcResolverUnknown(t *testing.T) {
	f := newProcFixture(t)
	f.table("tcp",
		tcpLine(0, clientV4, serverV4, 4000, 0),
		tcpLine(1, "0100007F:1F90", serverV4, 1001, 0),
	)
	f.table("tcp6")
	r := f.resolver()

	if _, ok := resolve(t, r, "127.0.0.1:54321"); ok {
		t.Fatalf("uid without a passwd entry must be unknown")
	}
	if _, ok := resolve(t, r, "127.0.0.1:1234"); ok {
		t.Fatalf("no matching socket must be unknown")
	}
	if _, ok := r.Resolve(context.Background(), identity.Peer{}); ok {
		t.Fatalf("missing endpoint must be unknown")
	}
}

func TestProcResolverMissingTables(t *testing.T) {
	r, err := identity.NewProcResolver(t.TempDir(), newFakeUsers(alice))
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	if _, ok := resolve(t, r, "127.0.0.1:54321"); ok {
		t.Fatalf("unreadable tables must yield unknown")
	}
}
