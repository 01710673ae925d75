package metadata

import (
	"errors"
	"testing"

	"chunkfs/internal/chunkerr"
	"chunkfs/internal/metadata/command"
)

func TestCreateDirectoryAndResolvePath(t *testing.T) {
	svc := newTestService(t)

	in, err := svc.CreateDirectory("/docs", "alice")
	if err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	if in.Type != InodeDir || in.Name != "docs" {
		t.Fatalf("unexpected inode: %+v", in)
	}

	got, err := svc.ResolvePath("/docs")
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if got.ID != in.ID {
		t.Fatalf("expected resolved id %d, got %d", in.ID, got.ID)
	}
}

func TestCreateDirectoryDuplicateIsAlreadyExists(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.CreateDirectory("/docs", "alice"); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	if _, err := svc.CreateDirectory("/docs", "alice"); !errors.Is(err, chunkerr.AlreadyExists) {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestCreateDirectoryMissingParentIsParentNotFound(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.CreateDirectory("/a/b", "alice"); !errors.Is(err, chunkerr.ParentNotFound) {
		t.Fatalf("expected ParentNotFound, got %v", err)
	}
}

func TestResolvePathMissingIsNotFound(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.ResolvePath("/nope"); !errors.Is(err, chunkerr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestListDirectoryOnlyShowsActiveChildren(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.CreateDirectory("/a", "alice"); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	if _, err := svc.CreateDirectory("/b", "alice"); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}

	entries, err := svc.ListDirectory("/")
	if err != nil {
		t.Fatalf("ListDirectory: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}

	if err := svc.Delete("/a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	entries, err = svc.ListDirectory("/")
	if err != nil {
		t.Fatalf("ListDirectory after delete: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "b" {
		t.Fatalf("expected only b to remain, got %+v", entries)
	}
}

func TestDeleteNonEmptyDirectoryFails(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.CreateDirectory("/a", "alice"); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	if _, err := svc.CreateDirectory("/a/b", "alice"); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	if err := svc.Delete("/a"); !errors.Is(err, chunkerr.DirectoryNotEmpty) {
		t.Fatalf("expected DirectoryNotEmpty, got %v", err)
	}
}

func TestDeleteRecursiveQueuesSubtreeGC(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.CreateDirectory("/a", "alice"); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	if _, err := svc.CreateDirectory("/a/b", "alice"); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}

	if err := svc.DeleteRecursive("/a"); err != nil {
		t.Fatalf("DeleteRecursive: %v", err)
	}

	if _, err := svc.ResolvePath("/a"); !errors.Is(err, chunkerr.NotFound) {
		t.Fatalf("expected /a to be gone, got %v", err)
	}
	if got := len(svc.node.Store().ListSubtreeGC()); got != 1 {
		t.Fatalf("expected subtree queued for gc, got %d entries", got)
	}
}

func TestInitUploadCommitUploadRoundTrip(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.node.Propose(command.NewPutServer(ServerInfo{ServerID: "s1", Address: "s1:1", Status: ServerHealthy})); err != nil {
		t.Fatalf("propose server: %v", err)
	}

	session, err := svc.InitUpload("/f.txt", 10, "alice")
	if err != nil {
		t.Fatalf("InitUpload: %v", err)
	}
	if session.Status != UploadPending || len(session.Chunks) != 1 {
		t.Fatalf("unexpected session: %+v", session)
	}

	if err := svc.CommitUpload(session.UploadID, []string{"deadbeef"}); err != nil {
		t.Fatalf("CommitUpload: %v", err)
	}

	in, err := svc.ResolvePath("/f.txt")
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if in.Status != InodeActive || in.Size != 10 || in.Version != 1 {
		t.Fatalf("unexpected committed inode: %+v", in)
	}

	if _, err := svc.GetUploadSession(session.UploadID); !errors.Is(err, chunkerr.UploadNotFound) {
		t.Fatalf("expected session removed after commit, got %v", err)
	}
}

func TestCommitUploadWrongChecksumCountFails(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.node.Propose(command.NewPutServer(ServerInfo{ServerID: "s1", Address: "s1:1", Status: ServerHealthy})); err != nil {
		t.Fatalf("propose server: %v", err)
	}
	session, err := svc.InitUpload("/f.txt", 10, "alice")
	if err != nil {
		t.Fatalf("InitUpload: %v", err)
	}
	if err := svc.CommitUpload(session.UploadID, nil); !errors.Is(err, chunkerr.InvalidUpload) {
		t.Fatalf("expected InvalidUpload, got %v", err)
	}
}

func TestAbortUploadTearsDownFreshInode(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.node.Propose(command.NewPutServer(ServerInfo{ServerID: "s1", Address: "s1:1", Status: ServerHealthy})); err != nil {
		t.Fatalf("propose server: %v", err)
	}
	session, err := svc.InitUpload("/f.txt", 10, "alice")
	if err != nil {
		t.Fatalf("InitUpload: %v", err)
	}
	if err := svc.AbortUpload(session.UploadID); err != nil {
		t.Fatalf("AbortUpload: %v", err)
	}
	if _, err := svc.ResolvePath("/f.txt"); !errors.Is(err, chunkerr.NotFound) {
		t.Fatalf("expected aborted file to be gone, got %v", err)
	}
}
