package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// NewPGRepos returns the PostgreSQL-backed record repositories.
func NewPGRepos(pool *pgxpool.Pool) Repos {
	return Repos{
		Patients:      &patientRepoPG{db: pool},
		Visits:        &visitRepoPG{db: pool},
		Prescriptions: &prescriptionRepoPG{db: pool},
		LabReports:    &labReportRepoPG{db: pool},
	}
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

func requireRow(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]*T, error) {
	defer rows.Close()
	var items []*T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// -- Patient --

type patientRepoPG struct{ db queryable }

const patientCols = `id, name, age, gender, phone, photo_blob_id, document_blob_id,
	visit_ids, lab_report_ids, created_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Age, &p.Gender, &p.Phone,
		&p.PhotoBlobID, &p.DocumentBlobID, &p.VisitIDs, &p.LabReportIDs, &p.CreatedAt)
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	if p.VisitIDs == nil {
		p.VisitIDs = []uuid.UUID{}
	}
	if p.LabReportIDs == nil {
		p.LabReportIDs = []uuid.UUID{}
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO patient (id, name, age, gender, phone, photo_blob_id, document_blob_id,
			visit_ids, lab_report_ids)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		p.ID, p.Name, p.Age, p.Gender, p.Phone, p.PhotoBlobID, p.DocumentBlobID,
		p.VisitIDs, p.LabReportIDs).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.db.QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (r *patientRepoPG) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Patient, error) {
	rows, err := r.db.Query(ctx, `SELECT `+patientCols+` FROM patient WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query patients: %w", err)
	}
	return collect(rows, scanPatient)
}

func (r *patientRepoPG) List(ctx context.Context) ([]*Patient, error) {
	rows, err := r.db.Query(ctx, `SELECT `+patientCols+` FROM patient ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	return collect(rows, scanPatient)
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE patient SET name=$2, age=$3, gender=$4, phone=$5,
			photo_blob_id=$6, document_blob_id=$7
		WHERE id = $1`,
		p.ID, p.Name, p.Age, p.Gender, p.Phone, p.PhotoBlobID, p.DocumentBlobID)
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	return requireRow(tag)
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	return requireRow(tag)
}

func (r *patientRepoPG) AppendVisit(ctx context.Context, patientID, visitID uuid.UUID) error {
	return r.listOp(ctx, `UPDATE patient SET visit_ids = array_append(visit_ids, $2) WHERE id = $1`, patientID, visitID)
}

func (r *patientRepoPG) AppendLabReport(ctx context.Context, patientID, reportID uuid.UUID) error {
	return r.listOp(ctx, `UPDATE patient SET lab_report_ids = array_append(lab_report_ids, $2) WHERE id = $1`, patientID, reportID)
}

func (r *patientRepoPG) RemoveVisit(ctx context.Context, patientID, visitID uuid.UUID) error {
	return r.listOp(ctx, `UPDATE patient SET visit_ids = array_remove(visit_ids, $2) WHERE id = $1`, patientID, visitID)
}

func (r *patientRepoPG) RemoveLabReport(ctx context.Context, patientID, reportID uuid.UUID) error {
	return r.listOp(ctx, `UPDATE patient SET lab_report_ids = array_remove(lab_report_ids, $2) WHERE id = $1`, patientID, reportID)
}

func (r *patientRepoPG) listOp(ctx context.Context, sql string, patientID, childID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, sql, patientID, childID)
	if err != nil {
		return fmt.Errorf("update patient references: %w", err)
	}
	return requireRow(tag)
}

// -- Visit --

type visitRepoPG struct{ db queryable }

const visitCols = `id, seq, patient_id, visit_date, vitals, doctor_note, prescription_id,
	created_at, updated_at`

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(&v.ID, &v.Seq, &v.PatientID, &v.VisitDate, &v.Vitals, &v.DoctorNote,
		&v.PrescriptionID, &v.CreatedAt, &v.UpdatedAt)
	return &v, err
}

func (r *visitRepoPG) Create(ctx context.Context, v *Visit) error {
	v.ID = uuid.New()
	err := r.db.QueryRow(ctx, `
		INSERT INTO visit (id, patient_id, visit_date, vitals, doctor_note, prescription_id)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING seq, created_at, updated_at`,
		v.ID, v.PatientID, v.VisitDate, v.Vitals, v.DoctorNote, v.PrescriptionID).
		Scan(&v.Seq, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

func (r *visitRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.db.QueryRow(ctx, `SELECT `+visitCols+` FROM visit WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return v, nil
}

func (r *visitRepoPG) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Visit, error) {
	rows, err := r.db.Query(ctx, `SELECT `+visitCols+` FROM visit WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query visits: %w", err)
	}
	return collect(rows, scanVisit)
}

func (r *visitRepoPG) Update(ctx context.Context, v *Visit) error {
	err := r.db.QueryRow(ctx, `
		UPDATE visit SET vitals=$2, doctor_note=$3, prescription_id=$4, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		v.ID, v.Vitals, v.DoctorNote, v.PrescriptionID).Scan(&v.UpdatedAt)
	if err != nil {
		return notFound(err)
	}
	return nil
}

func (r *visitRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM visit WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete visit: %w", err)
	}
	return requireRow(tag)
}

func (r *visitRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Visit, error) {
	rows, err := r.db.Query(ctx, `SELECT `+visitCols+` FROM visit WHERE patient_id = $1 ORDER BY seq`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	return collect(rows, scanVisit)
}

func (r *visitRepoPG) ListBetween(ctx context.Context, from, to time.Time) ([]*Visit, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+visitCols+` FROM visit
		WHERE visit_date >= $1 AND visit_date <= $2
		ORDER BY seq`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list visits by date: %w", err)
	}
	return collect(rows, scanVisit)
}

func (r *visitRepoPG) LatestByPatient(ctx context.Context, patientID uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.db.QueryRow(ctx, `
		SELECT `+visitCols+` FROM visit WHERE patient_id = $1
		ORDER BY visit_date DESC, seq DESC LIMIT 1`, patientID))
	if err != nil {
		return nil, notFound(err)
	}
	return v, nil
}

func (r *visitRepoPG) DeleteByPatient(ctx context.Context, patientID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM visit WHERE patient_id = $1`, patientID)
	if err != nil {
		return 0, fmt.Errorf("delete visits: %w", err)
	}
	return tag.RowsAffected(), nil
}

// -- Prescription --

type prescriptionRepoPG struct{ db queryable }

const prescriptionCols = `id, medicines, created_at, updated_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.Medicines, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func nonNilMedicines(meds []Medicine) []Medicine {
	if meds == nil {
		return []Medicine{}
	}
	return meds
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	p.Medicines = nonNilMedicines(p.Medicines)
	err := r.db.QueryRow(ctx, `
		INSERT INTO prescription (id, medicines) VALUES ($1, $2)
		RETURNING created_at, updated_at`,
		p.ID, p.Medicines).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}
	return nil
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := scanPrescription(r.db.QueryRow(ctx, `SELECT `+prescriptionCols+` FROM prescription WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (r *prescriptionRepoPG) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Prescription, error) {
	rows, err := r.db.Query(ctx, `SELECT `+prescriptionCols+` FROM prescription WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query prescriptions: %w", err)
	}
	return collect(rows, scanPrescription)
}

func (r *prescriptionRepoPG) UpdateMedicines(ctx context.Context, id uuid.UUID, meds []Medicine) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE prescription SET medicines=$2, updated_at=NOW() WHERE id = $1`,
		id, nonNilMedicines(meds))
	if err != nil {
		return fmt.Errorf("update prescription: %w", err)
	}
	return requireRow(tag)
}

// -- Lab report --

type labReportRepoPG struct{ db queryable }

const labReportCols = `id, patient_id, test_name, test_date, result_blob_id, visit_id, created_at`

func scanLabReport(row pgx.Row) (*LabReport, error) {
	var l LabReport
	err := row.Scan(&l.ID, &l.PatientID, &l.TestName, &l.TestDate, &l.ResultBlobID,
		&l.VisitID, &l.CreatedAt)
	return &l, err
}

func (r *labReportRepoPG) Create(ctx context.Context, l *LabReport) error {
	l.ID = uuid.New()
	err := r.db.QueryRow(ctx, `
		INSERT INTO lab_report (id, patient_id, test_name, test_date, result_blob_id, visit_id)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		l.ID, l.PatientID, l.TestName, l.TestDate, l.ResultBlobID, l.VisitID).Scan(&l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert lab report: %w", err)
	}
	return nil
}

func (r *labReportRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabReport, error) {
	l, err := scanLabReport(r.db.QueryRow(ctx, `SELECT `+labReportCols+` FROM lab_report WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return l, nil
}

func (r *labReportRepoPG) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*LabReport, error) {
	rows, err := r.db.Query(ctx, `SELECT `+labReportCols+` FROM lab_report WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query lab reports: %w", err)
	}
	return collect(rows, scanLabReport)
}

func (r *labReportRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*LabReport, error) {
	rows, err := r.db.Query(ctx, `SELECT `+labReportCols+` FROM lab_report WHERE patient_id = $1`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list lab reports: %w", err)
	}
	return collect(rows, scanLabReport)
}

func (r *labReportRepoPG) UpdateResult(ctx context.Context, id uuid.UUID, blobID string) (*LabReport, error) {
	l, err := scanLabReport(r.db.QueryRow(ctx, `
		UPDATE lab_report SET result_blob_id = $2 WHERE id = $1
		RETURNING `+labReportCols, id, blobID))
	if err != nil {
		return nil, notFound(err)
	}
	return l, nil
}

func (r *labReportRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM lab_report WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete lab report: %w", err)
	}
	return requireRow(tag)
}

func (r *labReportRepoPG) DeleteByPatient(ctx context.Context, patientID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM lab_report WHERE patient_id = $1`, patientID)
	if err != nil {
		return 0, fmt.Errorf("delete lab reports: %w", err)
	}
	return tag.RowsAffected(), nil
}
