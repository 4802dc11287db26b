package tools

import "testing"

func TestLint_FlagsUndecodableByte(t *testing.T) {
	image := mustLoadImage(t, []byte{0x90, 0x48}) // NOP ; lone REX at EOF

	issues, err := NewLinter(DefaultLintOptions()).Lint(image, image.Entry, 2)
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}

	found := false
	for _, issue := range issues {
		if issue.Code == "UNDECODABLE" {
			found = true
			if issue.Level != LintError {
				t.Errorf("expected error level, got %v", issue.Level)
			}
		}
	}
	if !found {
		t.Error("expected an UNDECODABLE finding")
	}
}

func TestLint_FlagsBranchOutOfRange(t *testing.T) {
	// EB FE is JMP rel8 -2, i.e. jumps to itself: well within range.
	// EB 7F jumps 127 bytes past a 2-byte image: out of range.
	image := mustLoadImage(t, []byte{0xEB, 0x7F})

	issues, err := NewLinter(DefaultLintOptions()).Lint(image, image.Entry, 1)
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}

	found := false
	for _, issue := range issues {
		if issue.Code == "BRANCH_OUT_OF_RANGE" {
			found = true
			if issue.Level != LintWarning {
				t.Errorf("expected warning level, got %v", issue.Level)
			}
		}
	}
	if !found {
		t.Error("expected a BRANCH_OUT_OF_RANGE finding")
	}
}

func TestLint_NoIssuesOnSelfLoop(t *testing.T) {
	image := mustLoadImage(t, []byte{0xEB, 0xFE}) // JMP $ (infinite self-loop)

	issues, err := NewLinter(DefaultLintOptions()).Lint(image, image.Entry, 1)
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}
	for _, issue := range issues {
		t.Errorf("unexpected issue on a valid in-range jump: %v", issue)
	}
}

func TestLint_CanDisableBranchRangeCheck(t *testing.T) {
	image := mustLoadImage(t, []byte{0xEB, 0x7F})

	opts := DefaultLintOptions()
	opts.CheckBranchRange = false
	issues, err := NewLinter(opts).Lint(image, image.Entry, 1)
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}
	for _, issue := range issues {
		if issue.Code == "BRANCH_OUT_OF_RANGE" {
			t.Error("BRANCH_OUT_OF_RANGE should not fire when CheckBranchRange is disabled")
		}
	}
}
