package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestWriteAndRead(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "http://localhost:8080/static")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx := context.Background()
	key, err := store.Write(ctx, "generated/audio/job-1/a.mp3", []byte("mp3-bytes"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if key != "generated/audio/job-1/a.mp3" {
		t.Fatalf("key = %q", key)
	}

	data, err := store.Read(ctx, key)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(data, []byte("mp3-bytes")) {
		t.Fatalf("data = %q", data)
	}
}

func TestWriteNeverOverwrites(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx := context.Background()
	if _, err := store.Write(ctx, "a/b.mp3", []byte("first")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	_, err = store.Write(ctx, "a/b.mp3", []byte("second"))
	if !errors.Is(err, ErrKeyExists) {
		t.Fatalf("err = %v, want ErrKeyExists", err)
	}

	data, _ := store.Read(ctx, "a/b.mp3")
	if string(data) != "first" {
		t.Fatalf("original data clobbered: %q", data)
	}
}

func TestWriteRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for _, key := range []string{"../escape.mp3", "a/../../escape.mp3", "", "."} {
		if _, err := store.Write(context.Background(), key, []byte("x")); err == nil {
			t.Fatalf("key %q accepted, want error", key)
		}
	}
}

func TestPublicURL(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "http://localhost:8080/static/")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	got := store.PublicURL("generated/audio/a.mp3")
	want := "http://localhost:8080/static/generated/audio/a.mp3"
	if got != want {
		t.Fatalf("url = %q, want %q", got, want)
	}
}
