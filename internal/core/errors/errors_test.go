package errors

import (
	"errors"
	"testing"
)

func TestDomainError(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		err := New(CodeNotFound, "resource not found")
		if err.Error() != "[NOT_FOUND] resource not found" {
			t.Errorf("expected [NOT_FOUND] resource not found, got %s", err.Error())
		}
	})

	t.Run("Wrap", func(t *testing.T) {
		original := errors.New("original error")
		err := Wrap(original, CodeInternal, "internal failure")
		expected := "[INTERNAL_ERROR] internal failure: original error"
		if err.Error() != expected {
			t.Errorf("expected %s, got %s", expected, err.Error())
		}
	})

	t.Run("IsCode", func(t *testing.T) {
		err := New(CodeValidationError, "invalid input")
		if !IsCode(err, CodeValidationError) {
			t.Error("expected IsCode to return true for CodeValidationError")
		}
		if IsCode(err, CodeNotFound) {
			t.Error("expected IsCode to return false for CodeNotFound")
		}
	})

	t.Run("IsCodeWithWrapped", func(t *testing.T) {
		original := errors.New("original error")
		err := Wrap(original, CodeInternal, "internal failure")
		if !IsCode(err, CodeInternal) {
			t.Error("expected IsCode to return true for wrapped CodeInternal")
		}
	})
}

func TestAddContext(t *testing.T) {
	t.Run("DomainErrorKeepsCode", func(t *testing.T) {
		err := AddContext(New(CodeParse, "bad manifest"), CtxPath, "pom.xml")
		if !IsCode(err, CodeParse) {
			t.Fatalf("expected PARSE_ERROR code to survive, got %v", err)
		}
		expected := "[PARSE_ERROR] bad manifest (path=pom.xml)"
		if err.Error() != expected {
			t.Errorf("expected %s, got %s", expected, err.Error())
		}
	})

	t.Run("PlainErrorBecomesInternal", func(t *testing.T) {
		err := AddContext(errors.New("boom"), CtxOperation, "execute")
		if !IsCode(err, CodeInternal) {
			t.Fatalf("expected INTERNAL_ERROR, got %v", err)
		}
	})

	t.Run("NilStaysNil", func(t *testing.T) {
		if AddContext(nil, CtxPath, "x") != nil {
			t.Fatal("expected nil")
		}
	})
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(Wrap(errors.New("malformed"), CodeCorruptState, "checkpoint store")) {
		t.Error("expected corrupt state to be fatal")
	}
	if IsFatal(New(CodeParse, "bad file")) {
		t.Error("expected parse error to be recoverable")
	}
}

func TestError_ContextOrder(t *testing.T) {
	err := New(CodeBlocked, "phase has failed files")
	err = AddContext(err, CtxPath, "src/A.java")
	err = AddContext(err, "batch", 2)
	err = AddContext(err, CtxPhase, 3)
	err = AddContext(err, CtxOperation, "complete_phase")

	expected := "[PHASE_BLOCKED] phase has failed files (operation=complete_phase phase=3 path=src/A.java batch=2)"
	if err.Error() != expected {
		t.Errorf("expected %s, got %s", expected, err.Error())
	}
}

func TestLift(t *testing.T) {
	if Lift(nil, CodeCorruptState, "load") != nil {
		t.Fatal("expected nil")
	}

	err := Lift(errors.New("disk I/O error"), CodeCorruptState, "save_file")
	if !IsCode(err, CodeCorruptState) || !IsFatal(err) {
		t.Fatalf("expected fatal corrupt state, got %v", err)
	}
	if err.Error() != "[CORRUPT_STATE] save_file: disk I/O error (operation=save_file)" {
		t.Errorf("unexpected text %s", err.Error())
	}

	err = Lift(New(CodeNotFound, "no run"), CodeCorruptState, "load")
	if CodeOf(err) != CodeNotFound {
		t.Fatalf("expected existing code to survive, got %s", CodeOf(err))
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Fatal("plain errors carry no code")
	}
}
