package records

import (
	"time"

	"github.com/google/uuid"
)

// PatientRecord is a patient with its visit and lab report lists resolved.
type PatientRecord struct {
	Patient
	Visits     []*Visit     `json:"visits"`
	LabReports []*LabReport `json:"labReports"`
}

// PatientListItem adds the per-visit vitals the patient list shows inline.
type PatientListItem struct {
	PatientRecord
	VisitsVitals []Vitals `json:"visitsVitals"`
}

func newPatientListItem(rec *PatientRecord) *PatientListItem {
	vitals := make([]Vitals, 0, len(rec.Visits))
	for _, v := range rec.Visits {
		vitals = append(vitals, v.Vitals)
	}
	return &PatientListItem{PatientRecord: *rec, VisitsVitals: vitals}
}

type PrescriptionRef struct {
	ID        uuid.UUID  `json:"_id"`
	Medicines []Medicine `json:"medicines"`
}

func newPrescriptionRef(p *Prescription) *PrescriptionRef {
	if p == nil {
		return nil
	}
	meds := p.Medicines
	if meds == nil {
		meds = []Medicine{}
	}
	return &PrescriptionRef{ID: p.ID, Medicines: meds}
}

// VisitDetail is a visit with its prescription resolved; a missing
// prescription is null.
type VisitDetail struct {
	ID           uuid.UUID        `json:"_id"`
	PatientID    uuid.UUID        `json:"patientId"`
	VisitDate    time.Time        `json:"visitDate"`
	Vitals       Vitals           `json:"vitals"`
	DoctorNote   DoctorNote       `json:"doctorNote"`
	Prescription *PrescriptionRef `json:"prescription"`
}

func newVisitDetail(v *Visit, rx *Prescription) *VisitDetail {
	return &VisitDetail{
		ID:           v.ID,
		PatientID:    v.PatientID,
		VisitDate:    v.VisitDate,
		Vitals:       v.Vitals,
		DoctorNote:   v.DoctorNote,
		Prescription: newPrescriptionRef(rx),
	}
}

// DayVisit is one row of the daily visit list, carrying a patient summary.
type DayVisit struct {
	ID           uuid.UUID        `json:"_id"`
	PatientID    uuid.UUID        `json:"patientId"`
	PatientName  string           `json:"patientName"`
	PatientPhoto string           `json:"patientPhoto"`
	PatientAge   int              `json:"patientAge"`
	VisitDate    time.Time        `json:"visitDate"`
	DoctorNote   DoctorNote       `json:"doctorNote"`
	Prescription *PrescriptionRef `json:"prescription"`
}

func newDayVisit(v *Visit, p *Patient, rx *Prescription) *DayVisit {
	dv := &DayVisit{
		ID:           v.ID,
		PatientID:    p.ID,
		PatientName:  p.Name,
		PatientAge:   p.Age,
		VisitDate:    v.VisitDate,
		DoctorNote:   v.DoctorNote,
		Prescription: newPrescriptionRef(rx),
	}
	if p.PhotoBlobID != nil {
		dv.PatientPhoto = *p.PhotoBlobID
	}
	return dv
}
