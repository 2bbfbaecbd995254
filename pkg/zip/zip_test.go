package zip

import (
	"bytes"
	"errors"
	"testing"
)

func TestReplaceEntryKeepsOthers(t *testing.T) {
	archive, err := Build([]Entry{
		{Name: "[Content_Types].xml", Data: []byte("types")},
		{Name: "word/document.xml", Data: []byte("hello")},
		{Name: "word/styles.xml", Data: []byte("styles")},
	})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}

	out, err := ReplaceEntry(archive, "word/document.xml", func(b []byte) ([]byte, error) {
		return bytes.ToUpper(b), nil
	})
	if err != nil {
		t.Fatalf("ReplaceEntry error: %v", err)
	}

	got, err := ReadEntry(out, "word/document.xml")
	if err != nil || string(got) != "HELLO" {
		t.Fatalf("document entry = %q, %v", got, err)
	}
	got, err = ReadEntry(out, "word/styles.xml")
	if err != nil || string(got) != "styles" {
		t.Fatalf("styles entry = %q, %v", got, err)
	}
}

func TestReplaceEntryMissing(t *testing.T) {
	archive, err := Build([]Entry{{Name: "a.txt", Data: []byte("a")}})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	_, err = ReplaceEntry(archive, "b.txt", func(b []byte) ([]byte, error) { return b, nil })
	if !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
	if _, err := ReadEntry(archive, "b.txt"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestReplaceEntryPropagatesError(t *testing.T) {
	archive, _ := Build([]Entry{{Name: "a.txt", Data: []byte("a")}})
	boom := errors.New("boom")
	if _, err := ReplaceEntry(archive, "a.txt", func([]byte) ([]byte, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestReadEntryRejectsGarbage(t *testing.T) {
	if _, err := ReadEntry([]byte("not a zip"), "a"); err == nil {
		t.Fatal("expected error for invalid archive")
	}
}
