//go:build integration

package integration

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinic/internal/domain/records"
	"github.com/ehr/clinic/internal/platform/blobstore"
)

func newRecordsService() (*records.Service, records.Repos) {
	repos := records.NewPGRepos(globalPool)
	return records.NewService(repos, blobstore.NewMemory(), zerolog.Nop()), repos
}

func intPtr(n int) *int { return &n }

func TestPatientLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, repos := newRecordsService()

	var res *records.RegisterResult
	t.Run("Register", func(t *testing.T) {
		var err error
		res, err = svc.RegisterPatient(ctx, records.RegisterPatientInput{
			Name:   "Meera",
			Age:    intPtr(34),
			Gender: "F",
			Phone:  "555-0101",
			Photo:  records.BytesAttachment("meera.png", "image/png", []byte("png")),
			LabReports: []*records.Attachment{
				records.BytesAttachment("cbc.pdf", "application/pdf", []byte("cbc")),
			},
			Vitals: records.ValuePayload([]byte(`{"heartRate":72,"bloodPressure":"118/76"}`)),
		})
		if err != nil {
			t.Fatalf("RegisterPatient: %v", err)
		}
		if len(res.Patient.Visits) != 1 || len(res.Patient.LabReports) != 1 {
			t.Fatalf("expected 1 visit and 1 lab report, got %d and %d", len(res.Patient.Visits), len(res.Patient.LabReports))
		}
		if res.Patient.LabReports[0].TestName != records.DefaultLabReportName {
			t.Errorf("lab report name = %q, want %q", res.Patient.LabReports[0].TestName, records.DefaultLabReportName)
		}
		if hr := res.FirstVisit.Vitals.HeartRate; hr == nil || *hr != 72 {
			t.Errorf("heart rate = %v, want 72", hr)
		}
	})

	var second *records.Visit
	t.Run("AddVisit", func(t *testing.T) {
		var err error
		second, err = svc.AddVisit(ctx, res.Patient.ID, records.VisitInput{
			DoctorNote: records.ValuePayload([]byte(`{"title":"Review","content":"Improving"}`)),
			Medicines:  records.ValuePayload([]byte(`[{"name":"Paracetamol","dosage":"500mg"}]`)),
		})
		if err != nil {
			t.Fatalf("AddVisit: %v", err)
		}
		if second.PrescriptionID == nil {
			t.Fatal("expected a linked prescription")
		}
		if second.Seq <= res.FirstVisit.Seq {
			t.Errorf("seq %d not after %d", second.Seq, res.FirstVisit.Seq)
		}
	})

	t.Run("UpdateVisitReusesPrescription", func(t *testing.T) {
		v, err := svc.UpdateVisit(ctx, second.ID, records.VisitInput{
			Medicines: records.TextPayload(`[{"name":"Ibuprofen"}]`),
		})
		if err != nil {
			t.Fatalf("UpdateVisit: %v", err)
		}
		if *v.PrescriptionID != *second.PrescriptionID {
			t.Errorf("prescription relinked: %s != %s", v.PrescriptionID, second.PrescriptionID)
		}
		rx, err := repos.Prescriptions.GetByID(ctx, *v.PrescriptionID)
		if err != nil {
			t.Fatalf("GetByID prescription: %v", err)
		}
		if len(rx.Medicines) != 1 || rx.Medicines[0].Name != "Ibuprofen" {
			t.Errorf("medicines = %+v", rx.Medicines)
		}
	})

	t.Run("ListPatientVisitsInInsertionOrder", func(t *testing.T) {
		visits, err := svc.ListPatientVisits(ctx, res.Patient.ID)
		if err != nil {
			t.Fatalf("ListPatientVisits: %v", err)
		}
		if len(visits) != 2 || visits[0].ID != res.FirstVisit.ID || visits[1].ID != second.ID {
			t.Fatalf("unexpected visit order: %+v", visits)
		}
		if visits[0].Prescription != nil {
			t.Error("first visit should have no prescription")
		}
		if visits[1].Prescription == nil || len(visits[1].Prescription.Medicines) != 1 {
			t.Errorf("second visit prescription = %+v", visits[1].Prescription)
		}
	})

	t.Run("LatestVisit", func(t *testing.T) {
		v, err := svc.LatestVisit(ctx, res.Patient.ID)
		if err != nil {
			t.Fatalf("LatestVisit: %v", err)
		}
		if v.ID != second.ID {
			t.Errorf("latest = %s, want %s", v.ID, second.ID)
		}
	})

	t.Run("VisitsOnDate", func(t *testing.T) {
		day, err := svc.VisitsOnDate(ctx, second.VisitDate.In(time.Local))
		if err != nil {
			t.Fatalf("VisitsOnDate: %v", err)
		}
		found := 0
		for _, dv := range day {
			if dv.PatientID == res.Patient.ID {
				found++
				if dv.PatientName != "Meera" || dv.PatientAge != 34 || dv.PatientPhoto == "" {
					t.Errorf("patient summary = %+v", dv)
				}
			}
		}
		if found != 2 {
			t.Errorf("found %d visits for patient, want 2", found)
		}
	})

	t.Run("LabReportReplaceDownloadDelete", func(t *testing.T) {
		report := res.Patient.LabReports[0]
		updated, err := svc.ReplaceLabReportFile(ctx, report.ID,
			records.BytesAttachment("cbc-v2.pdf", "application/pdf", []byte("cbc v2")))
		if err != nil {
			t.Fatalf("ReplaceLabReportFile: %v", err)
		}
		if *updated.ResultBlobID == *report.ResultBlobID {
			t.Error("expected a new blob id")
		}

		rc, meta, err := svc.DownloadLabReport(ctx, report.ID)
		if err != nil {
			t.Fatalf("DownloadLabReport: %v", err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		if string(body) != "cbc v2" || meta.FileName != "cbc-v2.pdf" {
			t.Errorf("downloaded %q (%s)", body, meta.FileName)
		}

		if err := svc.DeleteLabReport(ctx, report.ID); err != nil {
			t.Fatalf("DeleteLabReport: %v", err)
		}
		p, err := repos.Patients.GetByID(ctx, res.Patient.ID)
		if err != nil {
			t.Fatalf("GetByID patient: %v", err)
		}
		if len(p.LabReportIDs) != 0 {
			t.Errorf("lab report ids = %v, want empty", p.LabReportIDs)
		}
	})

	t.Run("DeleteVisitDetaches", func(t *testing.T) {
		if err := svc.DeleteVisit(ctx, res.FirstVisit.ID); err != nil {
			t.Fatalf("DeleteVisit: %v", err)
		}
		p, err := repos.Patients.GetByID(ctx, res.Patient.ID)
		if err != nil {
			t.Fatalf("GetByID patient: %v", err)
		}
		if len(p.VisitIDs) != 1 || p.VisitIDs[0] != second.ID {
			t.Errorf("visit ids = %v, want [%s]", p.VisitIDs, second.ID)
		}
	})

	t.Run("DeletePatientCascades", func(t *testing.T) {
		if err := svc.DeletePatient(ctx, res.Patient.ID); err != nil {
			t.Fatalf("DeletePatient: %v", err)
		}
		if _, err := svc.GetPatient(ctx, res.Patient.ID); !errors.Is(err, records.ErrPatientNotFound) {
			t.Errorf("GetPatient after delete: %v", err)
		}
		visits, err := repos.Visits.ListByPatient(ctx, res.Patient.ID)
		if err != nil {
			t.Fatalf("ListByPatient: %v", err)
		}
		if len(visits) != 0 {
			t.Errorf("%d visits survived the patient", len(visits))
		}
	})
}

func TestPatientRepo_ReferenceLists(t *testing.T) {
	ctx := context.Background()
	repos := records.NewPGRepos(globalPool)

	p := &records.Patient{Name: "Ravi", Age: 50, Gender: "M"}
	if err := repos.Patients.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	a, b := uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{a, b} {
		if err := repos.Patients.AppendVisit(ctx, p.ID, id); err != nil {
			t.Fatalf("AppendVisit: %v", err)
		}
	}
	if err := repos.Patients.RemoveVisit(ctx, p.ID, uuid.New()); err != nil {
		t.Fatalf("RemoveVisit of unlisted id: %v", err)
	}
	if err := repos.Patients.RemoveVisit(ctx, p.ID, a); err != nil {
		t.Fatalf("RemoveVisit: %v", err)
	}

	got, err := repos.Patients.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if len(got.VisitIDs) != 1 || got.VisitIDs[0] != b {
		t.Errorf("visit ids = %v, want [%s]", got.VisitIDs, b)
	}

	if err := repos.Patients.AppendVisit(ctx, uuid.New(), a); !errors.Is(err, records.ErrNotFound) {
		t.Errorf("AppendVisit on missing patient: %v", err)
	}

	found, err := repos.Patients.GetByIDs(ctx, []uuid.UUID{uuid.New(), p.ID})
	if err != nil {
		t.Fatalf("GetByIDs: %v", err)
	}
	if len(found) != 1 || found[0].ID != p.ID {
		t.Errorf("GetByIDs = %+v", found)
	}
}
