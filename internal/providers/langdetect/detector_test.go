package langdetect

import (
	"context"
	"errors"
	"testing"
)

func TestDetect(t *testing.T) {
	d, err := New(Options{})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	tests := []struct {
		text string
		want string
	}{
		{text: "El perro de mi vecino ladra todas las noches y no me deja dormir tranquilo en mi casa.", want: "es"},
		{text: "The quick brown fox jumps over the lazy dog while the children are playing in the garden.", want: "en"},
	}
	for _, tc := range tests {
		got, err := d.Detect(context.Background(), tc.text)
		if err != nil {
			t.Fatalf("Detect(%q) error: %v", tc.text, err)
		}
		if got != tc.want {
			t.Fatalf("Detect(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestDetectIsStable(t *testing.T) {
	d, err := New(Options{Languages: []string{"es", "en"}})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	text := "Buenos días, quisiera saber a qué hora abre la biblioteca municipal los sábados."
	first, err := d.Detect(context.Background(), text)
	if err != nil {
		t.Fatalf("Detect error: %v", err)
	}
	second, err := d.Detect(context.Background(), text)
	if err != nil {
		t.Fatalf("Detect error: %v", err)
	}
	if first != second {
		t.Fatalf("detection not stable: %q vs %q", first, second)
	}
}

func TestDetectBlank(t *testing.T) {
	d, _ := New(Options{})
	if _, err := d.Detect(context.Background(), "  "); !errors.Is(err, ErrUndetermined) {
		t.Fatalf("expected ErrUndetermined, got %v", err)
	}
}

func TestNewRejectsUnsupported(t *testing.T) {
	if _, err := New(Options{Languages: []string{"es", "ja"}}); err == nil {
		t.Fatal("expected error for unsupported language")
	}
}

func TestNormalize(t *testing.T) {
	for in, want := range map[string]string{"es-ES": "es", "EN": "en", "pt-BR": "pt"} {
		got, err := Normalize(in)
		if err != nil || got != want {
			t.Fatalf("Normalize(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
}
