package records

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by repositories when the addressed row does not exist.
var ErrNotFound = errors.New("record not found")

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Patient, error)
	// List returns every patient, newest first.
	List(ctx context.Context) ([]*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error

	AppendVisit(ctx context.Context, patientID, visitID uuid.UUID) error
	AppendLabReport(ctx context.Context, patientID, reportID uuid.UUID) error
	// RemoveVisit and RemoveLabReport are no-ops when the id is not listed.
	RemoveVisit(ctx context.Context, patientID, visitID uuid.UUID) error
	RemoveLabReport(ctx context.Context, patientID, reportID uuid.UUID) error
}

type VisitRepository interface {
	Create(ctx context.Context, v *Visit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Visit, error)
	Update(ctx context.Context, v *Visit) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListByPatient returns a patient's visits in insertion order.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Visit, error)
	// ListBetween returns visits whose visit date lies in [from, to].
	ListBetween(ctx context.Context, from, to time.Time) ([]*Visit, error)
	// LatestByPatient returns the visit with the most recent visit date.
	LatestByPatient(ctx context.Context, patientID uuid.UUID) (*Visit, error)
	DeleteByPatient(ctx context.Context, patientID uuid.UUID) (int64, error)
}

type PrescriptionRepository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Prescription, error)
	UpdateMedicines(ctx context.Context, id uuid.UUID, meds []Medicine) error
}

type LabReportRepository interface {
	Create(ctx context.Context, r *LabReport) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabReport, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*LabReport, error)
	// ListByPatient returns a patient's lab reports in no particular order.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*LabReport, error)
	UpdateResult(ctx context.Context, id uuid.UUID, blobID string) (*LabReport, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByPatient(ctx context.Context, patientID uuid.UUID) (int64, error)
}

// Repos groups the four record repositories.
type Repos struct {
	Patients      PatientRepository
	Visits        VisitRepository
	Prescriptions PrescriptionRepository
	LabReports    LabReportRepository
}

// Populate resolves the visit and lab report lists of each patient with one
// lookup per kind. Ids that no longer resolve are skipped and the list order
// is kept.
func Populate(ctx context.Context, repos Repos, patients []*Patient) ([]*PatientRecord, error) {
	var visitIDs, reportIDs []uuid.UUID
	for _, p := range patients {
		visitIDs = append(visitIDs, p.VisitIDs...)
		reportIDs = append(reportIDs, p.LabReportIDs...)
	}

	visits := map[uuid.UUID]*Visit{}
	if len(visitIDs) > 0 {
		found, err := repos.Visits.GetByIDs(ctx, visitIDs)
		if err != nil {
			return nil, err
		}
		for _, v := range found {
			visits[v.ID] = v
		}
	}
	reports := map[uuid.UUID]*LabReport{}
	if len(reportIDs) > 0 {
		found, err := repos.LabReports.GetByIDs(ctx, reportIDs)
		if err != nil {
			return nil, err
		}
		for _, r := range found {
			reports[r.ID] = r
		}
	}

	out := make([]*PatientRecord, 0, len(patients))
	for _, p := range patients {
		rec := &PatientRecord{
			Patient:    *p,
			Visits:     make([]*Visit, 0, len(p.VisitIDs)),
			LabReports: make([]*LabReport, 0, len(p.LabReportIDs)),
		}
		for _, id := range p.VisitIDs {
			if v, ok := visits[id]; ok {
				rec.Visits = append(rec.Visits, v)
			}
		}
		for _, id := range p.LabReportIDs {
			if r, ok := reports[id]; ok {
				rec.LabReports = append(rec.LabReports, r)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// prescriptionsFor loads the prescriptions linked from visits, keyed by id.
// Links to deleted prescriptions are absent from the map.
func prescriptionsFor(ctx context.Context, repo PrescriptionRepository, visits []*Visit) (map[uuid.UUID]*Prescription, error) {
	var ids []uuid.UUID
	for _, v := range visits {
		if v.PrescriptionID != nil {
			ids = append(ids, *v.PrescriptionID)
		}
	}
	out := make(map[uuid.UUID]*Prescription, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	found, err := repo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range found {
		out[p.ID] = p
	}
	return out, nil
}
