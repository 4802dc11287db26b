package tools

import (
	"bytes"
	"strings"
	"testing"

	"github.com/binxlate/dbt/loader"
)

func mustLoadImage(t *testing.T, code []byte) *loader.Image {
	t.Helper()
	image, err := loader.Load(bytes.NewReader(code), loader.DefaultLoadAddr, loader.DefaultLoadAddr)
	if err != nil {
		t.Fatalf("loader.Load: %v", err)
	}
	return image
}

func TestFormatImage_BasicInstructions(t *testing.T) {
	image := mustLoadImage(t, []byte{0x90, 0xC3}) // NOP ; RET

	out, err := FormatImage(image, image.Entry, 2, DefaultFormatOptions())
	if err != nil {
		t.Fatalf("FormatImage: %v", err)
	}

	if !strings.Contains(out, "90") {
		t.Errorf("expected NOP bytes in output, got: %s", out)
	}
	if !strings.Contains(out, "SPECIAL") {
		t.Errorf("expected NOP classified as SPECIAL, got: %s", out)
	}
	if !strings.Contains(out, "BRANCH") {
		t.Errorf("expected RET classified as BRANCH, got: %s", out)
	}
}

func TestFormatter_CompactStyle(t *testing.T) {
	image := mustLoadImage(t, []byte{0x90})

	out, err := FormatImage(image, image.Entry, 1, CompactFormatOptions())
	if err != nil {
		t.Fatalf("FormatImage: %v", err)
	}
	if strings.Count(strings.TrimRight(out, "\n"), "\n") != 0 {
		t.Errorf("expected a single line, got: %q", out)
	}
	if strings.Contains(out, "90") {
		t.Errorf("compact style should not show bytes by default, got: %s", out)
	}
}

func TestFormatter_ShowsSymbol(t *testing.T) {
	image := mustLoadImage(t, []byte{0x90})
	image.Symbols["_start"] = image.Entry

	out, err := FormatImage(image, image.Entry, 1, DefaultFormatOptions())
	if err != nil {
		t.Fatalf("FormatImage: %v", err)
	}
	if !strings.Contains(out, "_start") {
		t.Errorf("expected symbol name in output, got: %s", out)
	}
}

func TestDecodeRange_RecoversFromUndecodableByte(t *testing.T) {
	// A lone REX prefix at the very end of the image has no opcode byte
	// to consume, so it should decode as a one-byte "undecodable" entry
	// rather than aborting the whole scan.
	image := mustLoadImage(t, []byte{0x90, 0x48})

	lines, err := DecodeRange(image, image.Entry, 2)
	if err != nil {
		t.Fatalf("DecodeRange: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[1].Category != "undecodable" {
		t.Errorf("expected second line to be undecodable, got %q", lines[1].Category)
	}
}

func TestFormatOptions_ExpandedHasWiderColumns(t *testing.T) {
	def := DefaultFormatOptions()
	exp := ExpandedFormatOptions()
	if exp.BytesColumn <= def.BytesColumn {
		t.Errorf("expanded BytesColumn should be wider than default")
	}
}
