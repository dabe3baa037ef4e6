package pipeline

import (
	"sync"
	"testing"

	"github.com/magpielabs/magpie/models"
)

func TestTrackerSingleURLJob(t *testing.T) {
	tr := NewTracker()
	tr.Activate(1, 1)

	out, terminal := tr.Complete(1)
	if !terminal {
		t.Fatal("single-url job should be terminal after one completion")
	}
	if out.Status != models.JobCompleted {
		t.Errorf("status = %q, want %q", out.Status, models.JobCompleted)
	}
	if out.Completed != 1 || out.Failed != 0 || out.Total != 1 {
		t.Errorf("outcome = %+v, want 1/0 of 1", out)
	}
	if tr.Has(1) {
		t.Error("entry should be removed after the terminal outcome")
	}
}

func TestTrackerTerminalStatusRules(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		completed int
		failed    int
		want      models.JobStatus
	}{
		{"all succeed", 3, 3, 0, models.JobCompleted},
		{"all fail", 3, 0, 3, models.JobFailed},
		{"mixed outcome counts as completed", 3, 1, 2, models.JobCompleted},
		{"single failure only", 1, 0, 1, models.JobFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			tr.Activate(7, tt.total)

			var (
				out      Outcome
				terminal bool
			)
			for i := 0; i < tt.completed; i++ {
				out, terminal = tr.Complete(7)
			}
			for i := 0; i < tt.failed; i++ {
				out, terminal = tr.Fail(7)
			}

			if !terminal {
				t.Fatal("final outcome should be terminal")
			}
			if out.Status != tt.want {
				t.Errorf("status = %q, want %q", out.Status, tt.want)
			}
			if out.Completed != tt.completed || out.Failed != tt.failed {
				t.Errorf("counts = %d/%d, want %d/%d", out.Completed, out.Failed, tt.completed, tt.failed)
			}
		})
	}
}

func TestTrackerTerminalExactlyOnce(t *testing.T) {
	tr := NewTracker()
	tr.Activate(3, 2)

	if _, terminal := tr.Complete(3); terminal {
		t.Fatal("first of two outcomes must not be terminal")
	}
	if _, terminal := tr.Complete(3); !terminal {
		t.Fatal("second outcome should be terminal")
	}
	// Duplicate deliveries after the verdict are no-ops.
	if _, terminal := tr.Complete(3); terminal {
		t.Error("outcome after the verdict produced a second terminal")
	}
	if _, terminal := tr.Fail(3); terminal {
		t.Error("failure after the verdict produced a second terminal")
	}
}

func TestTrackerActivateFirstCallWins(t *testing.T) {
	tr := NewTracker()
	tr.Activate(4, 3)
	tr.Activate(4, 99)

	tr.Complete(4)
	tr.Complete(4)
	out, terminal := tr.Complete(4)
	if !terminal {
		t.Fatal("three outcomes should finish a total of three")
	}
	if out.Total != 3 {
		t.Errorf("total = %d, want the original 3", out.Total)
	}
}

func TestTrackerUntrackedOutcomeDropped(t *testing.T) {
	tr := NewTracker()
	if _, terminal := tr.Complete(42); terminal {
		t.Error("outcome for unknown job reported terminal")
	}
	if tr.Size() != 0 {
		t.Errorf("Size = %d, want 0", tr.Size())
	}
}

func TestTrackerRejectsEmptyJob(t *testing.T) {
	tr := NewTracker()
	tr.Activate(5, 0)
	if tr.Has(5) {
		t.Error("job with zero urls should not be tracked")
	}
}

func TestTrackerConcurrentOutcomes(t *testing.T) {
	const total = 100
	tr := NewTracker()
	tr.Activate(9, total)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		terminals []Outcome
	)
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			var (
				out Outcome
				ok  bool
			)
			if n%4 == 0 {
				out, ok = tr.Fail(9)
			} else {
				out, ok = tr.Complete(9)
			}
			if ok {
				mu.Lock()
				terminals = append(terminals, out)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if len(terminals) != 1 {
		t.Fatalf("got %d terminal outcomes, want exactly 1", len(terminals))
	}
	out := terminals[0]
	if out.Completed+out.Failed != total {
		t.Errorf("counts %d+%d do not sum to total %d", out.Completed, out.Failed, total)
	}
	if out.Completed != 75 || out.Failed != 25 {
		t.Errorf("counts = %d/%d, want 75/25", out.Completed, out.Failed)
	}
	if out.Status != models.JobCompleted {
		t.Errorf("status = %q, want %q", out.Status, models.JobCompleted)
	}
	if tr.Size() != 0 {
		t.Errorf("Size after terminal = %d, want 0", tr.Size())
	}
}
