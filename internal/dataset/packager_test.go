package dataset

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
)

type fakeStore struct {
	objects map[string][]byte // "bucket/name" -> data
	deletes []string
	failGet bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) key(bucket, name string) string { return bucket + "/" + name }

func (f *fakeStore) Download(_ context.Context, bucket, name string) ([]byte, error) {
	if f.failGet {
		return nil, fmt.Errorf("connection reset")
	}
	data, ok := f.objects[f.key(bucket, name)]
	if !ok {
		return nil, fmt.Errorf("object not found: %s/%s", bucket, name)
	}
	return data, nil
}

func (f *fakeStore) Upload(_ context.Context, bucket, name string, data []byte, _ string) error {
	f.objects[f.key(bucket, name)] = data
	return nil
}

func (f *fakeStore) Delete(_ context.Context, bucket, name string) error {
	f.deletes = append(f.deletes, f.key(bucket, name))
	delete(f.objects, f.key(bucket, name))
	return nil
}

func (f *fakeStore) PresignedURL(_ context.Context, bucket, name string, _ time.Duration) (string, error) {
	return "https://storage.test/" + bucket + "/" + name + "?sig=abc", nil
}

func (f *fakeStore) PhotoBucket() string   { return "photos" }
func (f *fakeStore) DatasetBucket() string { return "datasets" }

func TestPackBuildsZipAndPresigns(t *testing.T) {
	store := newFakeStore()
	paths := []string{"u7/a.jpg", "u7/b.png", "u7/c"}
	for _, p := range paths {
		store.objects["photos/"+p] = []byte("img:" + p)
	}

	p := NewPackager(store)

	arch, err := p.Pack(context.Background(), 7, paths)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	if !strings.HasPrefix(arch.ObjectName, "datasets/7/") || !strings.HasSuffix(arch.ObjectName, ".zip") {
		t.Errorf("unexpected object name %q", arch.ObjectName)
	}
	if !strings.Contains(arch.URL, arch.ObjectName) {
		t.Errorf("url %q does not reference archive", arch.URL)
	}

	data, ok := store.objects["datasets/"+arch.ObjectName]
	if !ok {
		t.Fatal("archive not uploaded to dataset bucket")
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("read zip: %v", err)
	}

	wantNames := []string{"photo_01.jpg", "photo_02.png", "photo_03.jpg"}
	if len(zr.File) != len(wantNames) {
		t.Fatalf("expected %d entries, got %d", len(wantNames), len(zr.File))
	}
	for i, zf := range zr.File {
		if zf.Name != wantNames[i] {
			t.Errorf("entry %d: expected %q, got %q", i, wantNames[i], zf.Name)
		}

		rc, err := zf.Open()
		if err != nil {
			t.Fatalf("open entry: %v", err)
		}
		var content bytes.Buffer
		content.ReadFrom(rc)
		rc.Close()

		if want := "img:" + paths[i]; content.String() != want {
			t.Errorf("entry %d: expected body %q, got %q", i, want, content.String())
		}
	}
}

func TestPackDownloadFailureSurfaces(t *testing.T) {
	store := newFakeStore()
	store.failGet = true

	p := NewPackager(store)

	if _, err := p.Pack(context.Background(), 1, []string{"u1/a.jpg"}); err == nil {
		t.Error("expected error when photo download fails")
	}
}

func TestDeleteIsIdempotentAndSilent(t *testing.T) {
	store := newFakeStore()
	store.objects["datasets/datasets/1/x.zip"] = []byte("zip")

	p := NewPackager(store)

	// deleting twice must not panic or surface anything
	p.Delete(context.Background(), "datasets/1/x.zip")
	p.Delete(context.Background(), "datasets/1/x.zip")

	if len(store.deletes) != 2 {
		t.Errorf("expected 2 delete calls, got %d", len(store.deletes))
	}

	// empty object name is a no-op
	p.Delete(context.Background(), "")
	if len(store.deletes) != 2 {
		t.Error("empty object name should not hit storage")
	}
}

func TestDeletePhotosRemovesEach(t *testing.T) {
	store := newFakeStore()
	paths := []string{"u1/a.jpg", "u1/b.jpg"}
	for _, p := range paths {
		store.objects["photos/"+p] = []byte("img")
	}

	p := NewPackager(store)
	p.DeletePhotos(context.Background(), paths)

	if len(store.objects) != 0 {
		t.Errorf("photos left behind: %v", store.objects)
	}
}
