package tools

import "testing"

func TestXRefGenerator_RecordsNamedSymbols(t *testing.T) {
	image := mustLoadImage(t, []byte{0x90})
	image.Symbols["_start"] = image.Entry

	gen := NewXRefGenerator()
	symbols, err := gen.Generate(image, image.Entry, 1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	sym, ok := symbols[image.Entry]
	if !ok || sym.Name != "_start" {
		t.Fatalf("expected _start recorded at entry, got %+v", sym)
	}
}

func TestXRefGenerator_RecordsCallTarget(t *testing.T) {
	// E8 00 00 00 00 is CALL rel32 +0, a self-referential call: target is
	// the address right after the instruction (ip+5).
	image := mustLoadImage(t, []byte{0xE8, 0x00, 0x00, 0x00, 0x00, 0x90})

	gen := NewXRefGenerator()
	symbols, err := gen.Generate(image, image.Entry, 2)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	target := image.Entry + 5
	sym, ok := symbols[target]
	if !ok {
		t.Fatalf("expected a symbol recorded at the call target %#x, got %v", target, symbols)
	}
	if !sym.IsFunction {
		t.Errorf("a CALL target should be marked IsFunction")
	}
	if len(sym.References) != 1 || sym.References[0].Type != RefCall {
		t.Errorf("expected one RefCall reference, got %+v", sym.References)
	}
}

func TestXRefGenerator_GetFunctionsSortedByAddress(t *testing.T) {
	image := mustLoadImage(t, []byte{
		0xE8, 0x05, 0x00, 0x00, 0x00, // CALL +5 -> entry+10
		0xE8, 0x00, 0x00, 0x00, 0x00, // CALL +0 -> entry+10
		0x90,
	})

	gen := NewXRefGenerator()
	if _, err := gen.Generate(image, image.Entry, 3); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	fns := gen.GetFunctions()
	if len(fns) == 0 {
		t.Fatal("expected at least one function symbol")
	}
	for i := 1; i < len(fns); i++ {
		if fns[i-1].Address > fns[i].Address {
			t.Errorf("GetFunctions() not sorted: %#x before %#x", fns[i-1].Address, fns[i].Address)
		}
	}
}

func TestGenerateXRef_ProducesReport(t *testing.T) {
	image := mustLoadImage(t, []byte{0x90})
	image.Symbols["_start"] = image.Entry

	report, err := GenerateXRef(image, image.Entry, 1)
	if err != nil {
		t.Fatalf("GenerateXRef: %v", err)
	}
	if report == "" {
		t.Error("expected a non-empty report")
	}
}
