package records

import (
	"time"

	"github.com/google/uuid"
)

// DefaultLabReportName is used when a lab report is attached without a test name.
const DefaultLabReportName = "Lab Report"

// Patient owns ordered reference lists to its visits and lab reports. The lists
// only ever name records that were created before the append.
type Patient struct {
	ID             uuid.UUID   `db:"id" json:"_id"`
	Name           string      `db:"name" json:"name"`
	Age            int         `db:"age" json:"age"`
	Gender         string      `db:"gender" json:"gender"`
	Phone          string      `db:"phone" json:"phone"`
	PhotoBlobID    *string     `db:"photo_blob_id" json:"image"`
	DocumentBlobID *string     `db:"document_blob_id" json:"document"`
	VisitIDs       []uuid.UUID `db:"visit_ids" json:"visits"`
	LabReportIDs   []uuid.UUID `db:"lab_report_ids" json:"labReports"`
	CreatedAt      time.Time   `db:"created_at" json:"createdAt"`
}

// Vitals is a point-in-time set of measurements. Every field is optional and
// an absent field stays absent in JSON.
type Vitals struct {
	HeartRate       *float64 `json:"heartRate,omitempty"`
	BloodPressure   *string  `json:"bloodPressure,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	RespirationRate *float64 `json:"respirationRate,omitempty"`
	Weight          *float64 `json:"weight,omitempty"`
}

func (v Vitals) IsEmpty() bool {
	return v.HeartRate == nil && v.BloodPressure == nil && v.Temperature == nil &&
		v.RespirationRate == nil && v.Weight == nil
}

type DoctorNote struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type Visit struct {
	ID             uuid.UUID  `db:"id" json:"_id"`
	Seq            int64      `db:"seq" json:"-"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patientId"`
	VisitDate      time.Time  `db:"visit_date" json:"visitDate"`
	Vitals         Vitals     `db:"vitals" json:"vitals"`
	DoctorNote     DoctorNote `db:"doctor_note" json:"doctorNote"`
	PrescriptionID *uuid.UUID `db:"prescription_id" json:"prescriptionId,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
}

type Medicine struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions"`
}

type Prescription struct {
	ID        uuid.UUID  `db:"id" json:"_id"`
	Medicines []Medicine `db:"medicines" json:"medicines"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time  `db:"updated_at" json:"updatedAt"`
}

type LabReport struct {
	ID           uuid.UUID  `db:"id" json:"_id"`
	PatientID    uuid.UUID  `db:"patient_id" json:"patientId"`
	TestName     string     `db:"test_name" json:"testName"`
	TestDate     time.Time  `db:"test_date" json:"testDate"`
	ResultBlobID *string    `db:"result_blob_id" json:"result"`
	VisitID      *uuid.UUID `db:"visit_id" json:"visitId,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
}
