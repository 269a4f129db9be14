package scraper

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestNewScrapeItem(t *testing.T) {
	item, err := NewScrapeItem("https://host.example/album/123/")
	if err != nil {
		t.Fatalf("NewScrapeItem: %v", err)
	}
	if got := item.URL.String(); got != "https://host.example/album/123" {
		t.Fatalf("trailing slash not stripped: %q", got)
	}

	root, err := NewScrapeItem("https://host.example/")
	if err != nil {
		t.Fatalf("NewScrapeItem root: %v", err)
	}
	if got := root.URL.Path; got != "/" {
		t.Fatalf("root path = %q, want /", got)
	}

	for _, bad := range []string{"ftp://host/x", "not a url", "https://"} {
		if _, err := NewScrapeItem(bad); err == nil {
			t.Errorf("NewScrapeItem(%q) accepted invalid input", bad)
		}
	}
}

func TestNewScrapeItemPreservesEncoding(t *testing.T) {
	item, err := NewScrapeItem("https://host.example/a%20b/c%2Fd")
	if err != nil {
		t.Fatalf("NewScrapeItem: %v", err)
	}
	if got := item.URL.EscapedPath(); got != "/a%20b/c%2Fd" {
		t.Fatalf("escaped path = %q, want /a%%20b/c%%2Fd", got)
	}
}

func TestCreateChild(t *testing.T) {
	parent, _ := NewScrapeItem("https://host.example/album/1")
	parent.SetupAsAlbum("My Album", "ABC", 0)

	child, err := parent.CreateChild("https://host.example/img/2", "")
	if err != nil {
		t.Fatalf("CreateChild: %v", err)
	}
	if len(child.Parents) != 1 || child.Parents[0] != "https://host.example/album/1" {
		t.Fatalf("parents = %v", child.Parents)
	}
	if !child.PartOfAlbum || child.AlbumID != "ABC" {
		t.Fatalf("album attribution lost: %+v", child)
	}
	if child.ParentTitle != "My Album" {
		t.Fatalf("parent title = %q", child.ParentTitle)
	}

	grand, err := child.CreateChild("https://host.example/img/3", "Sub Gallery")
	if err != nil {
		t.Fatalf("CreateChild: %v", err)
	}
	if grand.ParentTitle != "My Album/Sub Gallery" {
		t.Fatalf("nested title = %q", grand.ParentTitle)
	}
	if len(grand.Parents) != 2 {
		t.Fatalf("grandchild parents = %v", grand.Parents)
	}
}

func TestAddChildLimit(t *testing.T) {
	item, _ := NewScrapeItem("https://host.example/a")
	item.SetupAsProfile("p", 2)
	if err := item.AddChild(); err != nil {
		t.Fatalf("first AddChild: %v", err)
	}
	if err := item.AddChild(); err != nil {
		t.Fatalf("second AddChild: %v", err)
	}
	if err := item.AddChild(); !errors.Is(err, ErrMaxChildren) {
		t.Fatalf("third AddChild = %v, want ErrMaxChildren", err)
	}
}

func TestSetupCollectionDefaultLimits(t *testing.T) {
	item, _ := NewScrapeItem("https://host.example/album/1")
	item.Limits = ChildLimits{Album: 2, Forum: 3}

	item.SetupAsAlbum("t", "id", 0)
	if item.ChildrenLimit != 2 {
		t.Fatalf("album limit = %d, want configured default 2", item.ChildrenLimit)
	}

	// An explicit limit wins over the configured default.
	other, _ := NewScrapeItem("https://host.example/album/2")
	other.Limits = ChildLimits{Album: 2}
	other.SetupAsAlbum("t", "id", 5)
	if other.ChildrenLimit != 5 {
		t.Fatalf("explicit limit = %d, want 5", other.ChildrenLimit)
	}

	// Types without a configured cap stay unlimited.
	profile, _ := NewScrapeItem("https://host.example/p/1")
	profile.Limits = ChildLimits{Album: 2}
	profile.SetupAsProfile("p", 0)
	if profile.ChildrenLimit != 0 {
		t.Fatalf("profile limit = %d, want unlimited", profile.ChildrenLimit)
	}

	child, err := item.CreateChild("https://host.example/album/1/x", "")
	if err != nil {
		t.Fatalf("CreateChild: %v", err)
	}
	if child.Limits != item.Limits {
		t.Fatalf("child limits = %+v, want inherited %+v", child.Limits, item.Limits)
	}
}

func TestAddChildUnlimited(t *testing.T) {
	item, _ := NewScrapeItem("https://host.example/a")
	for i := 0; i < 1000; i++ {
		if err := item.AddChild(); err != nil {
			t.Fatalf("AddChild %d: %v", i, err)
		}
	}
}

func TestDownloadItemPaths(t *testing.T) {
	item, _ := NewScrapeItem("https://cdn.example/v/video.mp4")
	d := DownloadItem{
		SourceURL:      item.URL,
		DownloadFolder: "/downloads/Album",
		Filename:       "video.mp4",
	}
	complete := d.CompletePath()
	partial := d.PartialPath()
	if complete != filepath.Join("/downloads/Album", "video.mp4") {
		t.Fatalf("complete = %q", complete)
	}
	if partial != complete+".part" {
		t.Fatalf("partial = %q, want %q", partial, complete+".part")
	}
	if filepath.Dir(partial) != filepath.Dir(complete) {
		t.Fatal("partial and complete differ in parent directory")
	}
}

func TestTransferURL(t *testing.T) {
	item, _ := NewScrapeItem("https://host.example/file/1")
	d := DownloadItem{SourceURL: item.URL}
	if got := d.TransferURL(); got != "https://host.example/file/1" {
		t.Fatalf("TransferURL = %q", got)
	}
	d.DebridLink = "https://cdn.unlocked/file/1"
	if got := d.TransferURL(); got != "https://cdn.unlocked/file/1" {
		t.Fatalf("TransferURL with debrid = %q", got)
	}
}
