package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

func TestGetOrLoad(t *testing.T) {
	c := NewArtifactCache(time.Minute, time.Minute)

	calls := 0
	load := func() (interface{}, error) {
		calls++
		return "value", nil
	}
	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad("k", gocache.DefaultExpiration, load)
		if err != nil || v.(string) != "value" {
			t.Fatalf("GetOrLoad = %v, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("loader called %d times, want 1", calls)
	}

	_, err := c.GetOrLoad("bad", gocache.DefaultExpiration, func() (interface{}, error) {
		return nil, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected loader error")
	}
	if _, found := c.c.Get("bad"); found {
		t.Error("error result was cached")
	}
}

func TestNilCacheLoadsEveryTime(t *testing.T) {
	var c *ArtifactCache
	calls := 0
	for i := 0; i < 2; i++ {
		_, _ = c.GetOrLoad("k", time.Minute, func() (interface{}, error) {
			calls++
			return 1, nil
		})
	}
	if calls != 2 {
		t.Errorf("loader called %d times, want 2", calls)
	}
}

func TestFileKeyChangesWithContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cert.pem")
	if err := os.WriteFile(path, []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}
	k1, err := FileKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("bb"), 0644); err != nil {
		t.Fatal(err)
	}
	k2, _ := FileKey(path)
	if k1 == k2 {
		t.Errorf("FileKey did not change after rewrite: %s", k1)
	}
	if _, err := FileKey(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("FileKey of missing file should fail")
	}
}
