package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/151706061/epad-ws-sub000/models"
)

func TestIndexWatcherRegistersSubjectAndExperiment(t *testing.T) {
	index := &fakeIndex{}
	w := NewIndexWatcher(NewQueue[models.SeriesDescriptor](1), index, "demo")

	err := w.register(context.Background(), models.SeriesDescriptor{
		SeriesUID:   "1.2.3",
		StudyUID:    "4.5.6",
		PatientID:   "PID 01",
		PatientName: "DOE^JANE",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(index.subjects) != 1 || index.subjects[0] != "demo/PID_01" {
		t.Fatalf("subjects = %v", index.subjects)
	}
	if len(index.experiments) != 1 || index.experiments[0] != "demo/PID_01/4_5_6" {
		t.Fatalf("experiments = %v", index.experiments)
	}
}

func TestIndexWatcherRejectsIncompleteDescriptors(t *testing.T) {
	index := &fakeIndex{}
	w := NewIndexWatcher(NewQueue[models.SeriesDescriptor](1), index, "demo")

	for _, d := range []models.SeriesDescriptor{
		{StudyUID: "4.5.6", PatientID: "P1", PatientName: "N"},
		{SeriesUID: "1.2.3", StudyUID: "4.5.6", PatientName: "N"},
		{SeriesUID: "1.2.3", StudyUID: "4.5.6", PatientID: "P1"},
	} {
		if err := w.register(context.Background(), d); err == nil {
			t.Errorf("descriptor %+v should be rejected", d)
		}
	}
	if len(index.subjects) != 0 {
		t.Fatal("invalid descriptors must not reach the index")
	}
}

func TestIndexWatcherStopsOnSubjectFailure(t *testing.T) {
	index := &fakeIndex{subjectErr: fmt.Errorf("index down")}
	w := NewIndexWatcher(NewQueue[models.SeriesDescriptor](1), index, "demo")

	err := w.register(context.Background(), models.SeriesDescriptor{
		SeriesUID: "1.2.3", StudyUID: "4.5.6", PatientID: "P1", PatientName: "N",
	})
	if err == nil {
		t.Fatal("subject failure must surface")
	}
	if len(index.experiments) != 0 {
		t.Fatal("experiment creation must not run after a failed subject")
	}
}

func TestSubjectLabel(t *testing.T) {
	cases := map[string]string{
		"PID 01":      "PID_01",
		"a.b/c":       "a_b_c",
		"already-ok9": "already-ok9",
		"  padded ":   "padded",
	}
	for in, want := range cases {
		if got := SubjectLabel(in); got != want {
			t.Errorf("SubjectLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExperimentLabel(t *testing.T) {
	if got := ExperimentLabel("1.2.840.113619"); got != "1_2_840_113619" {
		t.Fatalf("ExperimentLabel = %q", got)
	}
}
