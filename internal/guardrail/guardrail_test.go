package guardrail

import "testing"

func TestCheckDoomLoopTriggersAtThreshold(t *testing.T) {
	history := []string{"a", "sig:x", "sig:x"}
	result := CheckDoomLoop(history, "sig:x", 3)
	if !result.Triggered || result.Count != 3 {
		t.Fatalf("expected trigger at count 3, got %+v", result)
	}
}

func TestCheckDoomLoopClampsMinimumThreshold(t *testing.T) {
	history := []string{"sig:x"}
	result := CheckDoomLoop(history, "sig:x", 1)
	if !result.Triggered {
		t.Fatal("expected threshold clamped to 2 and triggered at count 2")
	}
}

func TestCheckDoomLoopNotTriggeredOnDifferentSignature(t *testing.T) {
	history := []string{"sig:y", "sig:y"}
	result := CheckDoomLoop(history, "sig:x", 2)
	if result.Triggered {
		t.Fatal("expected no trigger when planned signature differs")
	}
}

func TestCheckRepetitionTriggersAtThree(t *testing.T) {
	result, count := CheckRepetition("loop:a", "loop:a", 1)
	if result.Triggered || count != 2 {
		t.Fatalf("expected running count 2 without trigger yet, got %+v count=%d", result, count)
	}
	result2, count2 := CheckRepetition("loop:a", "loop:a", 2)
	if !result2.Triggered || count2 != 3 {
		t.Fatalf("expected trigger at count 3, got %+v count=%d", result2, count2)
	}
}

func TestCheckRepetitionResetsOnDifferentSignature(t *testing.T) {
	result, count := CheckRepetition("loop:a", "loop:b", 2)
	if result.Triggered || count != 0 {
		t.Fatalf("expected reset on different signature, got %+v count=%d", result, count)
	}
}

func TestCheckStagnationNotStagnantOnFilesChanged(t *testing.T) {
	steps := []Step{{ProgressSignal: "none"}, {ProgressSignal: "files_changed"}}
	if got := CheckStagnation(steps, 2); got.Stagnant {
		t.Fatalf("expected not stagnant, got %+v", got)
	}
}

func TestCheckStagnationFailuresWithoutProgress(t *testing.T) {
	steps := []Step{{Success: false}, {Success: false}}
	got := CheckStagnation(steps, 2)
	if !got.Stagnant || got.Reason != "failures without progress" {
		t.Fatalf("expected failures without progress, got %+v", got)
	}
}

func TestCheckStagnationSuccessWithoutProgress(t *testing.T) {
	steps := []Step{
		{Success: true, ProgressSignal: "none"},
		{Success: true, ProgressSignal: "success_without_changes"},
	}
	got := CheckStagnation(steps, 2)
	if !got.Stagnant || got.Reason != "success without observable progress" {
		t.Fatalf("expected success without progress, got %+v", got)
	}
}

func TestCheckReadOnlyInspectionStagnationTriggers(t *testing.T) {
	steps := []Step{
		{Success: true, Command: "cat file.go"},
		{Success: true, Command: "ls -la"},
		{Success: true, Command: "git status"},
	}
	got := CheckReadOnlyInspectionStagnation(steps, 3, 1, 5, true, false)
	if !got.Stagnant {
		t.Fatalf("expected readonly stagnation trigger, got %+v", got)
	}
}

func TestCheckReadOnlyInspectionStagnationSkippedWithoutWrite(t *testing.T) {
	steps := []Step{{Success: true, Command: "cat file.go"}, {Success: true, Command: "ls"}}
	got := CheckReadOnlyInspectionStagnation(steps, 2, 0, 5, false, false)
	if got.Stagnant {
		t.Fatal("expected no trigger without a preceding write")
	}
}

func TestCheckReadOnlyInspectionStagnationSkippedWhenValidated(t *testing.T) {
	steps := []Step{{Success: true, Command: "cat file.go"}, {Success: true, Command: "ls"}}
	got := CheckReadOnlyInspectionStagnation(steps, 2, 1, 5, true, true)
	if got.Stagnant {
		t.Fatal("expected no trigger when validation already ran since the write")
	}
}

func TestCheckWriteRegressionDetectsSpike(t *testing.T) {
	prev := 2
	cur := 10
	got := CheckWriteRegression(3, &cur, &prev, 5)
	if !got.Detected {
		t.Fatalf("expected spike detection, got %+v", got)
	}
}

func TestCheckWriteRegressionIgnoresSmallDelta(t *testing.T) {
	prev := 2
	cur := 4
	got := CheckWriteRegression(1, &cur, &prev, 5)
	if got.Detected {
		t.Fatal("expected no regression for a small delta")
	}
}

func TestCheckWriteRegressionIgnoresWhenNoChangedFiles(t *testing.T) {
	prev := 2
	cur := 10
	got := CheckWriteRegression(0, &cur, &prev, 5)
	if got.Detected {
		t.Fatal("expected no regression annotation without changed files")
	}
}

func TestIsReadOnlyCommand(t *testing.T) {
	if !IsReadOnlyCommand("git status") {
		t.Fatal("expected git status to be read-only")
	}
	if IsReadOnlyCommand("rm -rf .") {
		t.Fatal("expected rm -rf to not be read-only")
	}
}
