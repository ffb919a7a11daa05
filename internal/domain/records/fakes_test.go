package records

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinic/internal/platform/ai"
	"github.com/ehr/clinic/internal/platform/events"
)

// memStore backs all four repositories with maps so tests can inspect state.
type memStore struct {
	mu            sync.Mutex
	seq           int64
	patients      map[uuid.UUID]*Patient
	visits        map[uuid.UUID]*Visit
	prescriptions map[uuid.UUID]*Prescription
	labReports    map[uuid.UUID]*LabReport

	failAppendVisit error
	failRemoveLab   error
}

func newMemStore() *memStore {
	return &memStore{
		patients:      map[uuid.UUID]*Patient{},
		visits:        map[uuid.UUID]*Visit{},
		prescriptions: map[uuid.UUID]*Prescription{},
		labReports:    map[uuid.UUID]*LabReport{},
	}
}

func (m *memStore) repos() Repos {
	return Repos{
		Patients:      memPatients{m},
		Visits:        memVisits{m},
		Prescriptions: memPrescriptions{m},
		LabReports:    memLabReports{m},
	}
}

func clonePatient(p *Patient) *Patient {
	cp := *p
	cp.VisitIDs = append([]uuid.UUID{}, p.VisitIDs...)
	cp.LabReportIDs = append([]uuid.UUID{}, p.LabReportIDs...)
	return &cp
}

func cloneVisit(v *Visit) *Visit { cp := *v; return &cp }

func clonePrescription(p *Prescription) *Prescription {
	cp := *p
	cp.Medicines = append([]Medicine{}, p.Medicines...)
	return &cp
}

func cloneLabReport(l *LabReport) *LabReport { cp := *l; return &cp }

// -- patients --

type memPatients struct{ m *memStore }

func (r memPatients) Create(_ context.Context, p *Patient) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now().Add(time.Duration(len(r.m.patients)) * time.Millisecond)
	if p.VisitIDs == nil {
		p.VisitIDs = []uuid.UUID{}
	}
	if p.LabReportIDs == nil {
		p.LabReportIDs = []uuid.UUID{}
	}
	r.m.patients[p.ID] = clonePatient(p)
	return nil
}

func (r memPatients) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePatient(p), nil
}

func (r memPatients) GetByIDs(_ context.Context, ids []uuid.UUID) ([]*Patient, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*Patient
	for _, id := range ids {
		if p, ok := r.m.patients[id]; ok {
			out = append(out, clonePatient(p))
		}
	}
	return out, nil
}

func (r memPatients) List(_ context.Context) ([]*Patient, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]*Patient, 0, len(r.m.patients))
	for _, p := range r.m.patients {
		out = append(out, clonePatient(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memPatients) Update(_ context.Context, p *Patient) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cur, ok := r.m.patients[p.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Name, cur.Age, cur.Gender, cur.Phone = p.Name, p.Age, p.Gender, p.Phone
	cur.PhotoBlobID, cur.DocumentBlobID = p.PhotoBlobID, p.DocumentBlobID
	return nil
}

func (r memPatients) Delete(_ context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.patients[id]; !ok {
		return ErrNotFound
	}
	delete(r.m.patients, id)
	return nil
}

func (r memPatients) AppendVisit(_ context.Context, patientID, visitID uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failAppendVisit != nil {
		return r.m.failAppendVisit
	}
	p, ok := r.m.patients[patientID]
	if !ok {
		return ErrNotFound
	}
	p.VisitIDs = append(p.VisitIDs, visitID)
	return nil
}

func (r memPatients) AppendLabReport(_ context.Context, patientID, reportID uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.patients[patientID]
	if !ok {
		return ErrNotFound
	}
	p.LabReportIDs = append(p.LabReportIDs, reportID)
	return nil
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func (r memPatients) RemoveVisit(_ context.Context, patientID, visitID uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.patients[patientID]
	if !ok {
		return ErrNotFound
	}
	p.VisitIDs = removeID(p.VisitIDs, visitID)
	return nil
}

func (r memPatients) RemoveLabReport(_ context.Context, patientID, reportID uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failRemoveLab != nil {
		return r.m.failRemoveLab
	}
	p, ok := r.m.patients[patientID]
	if !ok {
		return ErrNotFound
	}
	p.LabReportIDs = removeID(p.LabReportIDs, reportID)
	return nil
}

// -- visits --

type memVisits struct{ m *memStore }

func (r memVisits) Create(_ context.Context, v *Visit) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.seq++
	v.ID = uuid.New()
	v.Seq = r.m.seq
	v.CreatedAt = time.Now()
	v.UpdatedAt = v.CreatedAt
	r.m.visits[v.ID] = cloneVisit(v)
	return nil
}

func (r memVisits) GetByID(_ context.Context, id uuid.UUID) (*Visit, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	v, ok := r.m.visits[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneVisit(v), nil
}

func (r memVisits) GetByIDs(_ context.Context, ids []uuid.UUID) ([]*Visit, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*Visit
	for _, id := range ids {
		if v, ok := r.m.visits[id]; ok {
			out = append(out, cloneVisit(v))
		}
	}
	return out, nil
}

func (r memVisits) Update(_ context.Context, v *Visit) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cur, ok := r.m.visits[v.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Vitals, cur.DoctorNote, cur.PrescriptionID = v.Vitals, v.DoctorNote, v.PrescriptionID
	cur.UpdatedAt = time.Now()
	v.UpdatedAt = cur.UpdatedAt
	return nil
}

func (r memVisits) Delete(_ context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.visits[id]; !ok {
		return ErrNotFound
	}
	delete(r.m.visits, id)
	return nil
}

func (r memVisits) sorted(keep func(*Visit) bool) []*Visit {
	var out []*Visit
	for _, v := range r.m.visits {
		if keep(v) {
			out = append(out, cloneVisit(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (r memVisits) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Visit, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.sorted(func(v *Visit) bool { return v.PatientID == patientID }), nil
}

func (r memVisits) ListBetween(_ context.Context, from, to time.Time) ([]*Visit, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.sorted(func(v *Visit) bool {
		return !v.VisitDate.Before(from) && !v.VisitDate.After(to)
	}), nil
}

func (r memVisits) LatestByPatient(_ context.Context, patientID uuid.UUID) (*Visit, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var latest *Visit
	for _, v := range r.m.visits {
		if v.PatientID != patientID {
			continue
		}
		if latest == nil || v.VisitDate.After(latest.VisitDate) ||
			(v.VisitDate.Equal(latest.VisitDate) && v.Seq > latest.Seq) {
			latest = v
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return cloneVisit(latest), nil
}

func (r memVisits) DeleteByPatient(_ context.Context, patientID uuid.UUID) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for id, v := range r.m.visits {
		if v.PatientID == patientID {
			delete(r.m.visits, id)
			n++
		}
	}
	return n, nil
}

// -- prescriptions --

type memPrescriptions struct{ m *memStore }

func (r memPrescriptions) Create(_ context.Context, p *Prescription) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p.ID = uuid.New()
	p.Medicines = nonNilMedicines(p.Medicines)
	r.m.prescriptions[p.ID] = clonePrescription(p)
	return nil
}

func (r memPrescriptions) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.prescriptions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePrescription(p), nil
}

func (r memPrescriptions) GetByIDs(_ context.Context, ids []uuid.UUID) ([]*Prescription, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*Prescription
	for _, id := range ids {
		if p, ok := r.m.prescriptions[id]; ok {
			out = append(out, clonePrescription(p))
		}
	}
	return out, nil
}

func (r memPrescriptions) UpdateMedicines(_ context.Context, id uuid.UUID, meds []Medicine) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.prescriptions[id]
	if !ok {
		return ErrNotFound
	}
	p.Medicines = append([]Medicine{}, meds...)
	return nil
}

// -- lab reports --

type memLabReports struct{ m *memStore }

func (r memLabReports) Create(_ context.Context, l *LabReport) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	l.ID = uuid.New()
	l.CreatedAt = time.Now()
	r.m.labReports[l.ID] = cloneLabReport(l)
	return nil
}

func (r memLabReports) GetByID(_ context.Context, id uuid.UUID) (*LabReport, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	l, ok := r.m.labReports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneLabReport(l), nil
}

func (r memLabReports) GetByIDs(_ context.Context, ids []uuid.UUID) ([]*LabReport, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*LabReport
	for _, id := range ids {
		if l, ok := r.m.labReports[id]; ok {
			out = append(out, cloneLabReport(l))
		}
	}
	return out, nil
}

func (r memLabReports) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*LabReport, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*LabReport
	for _, l := range r.m.labReports {
		if l.PatientID == patientID {
			out = append(out, cloneLabReport(l))
		}
	}
	return out, nil
}

func (r memLabReports) UpdateResult(_ context.Context, id uuid.UUID, blobID string) (*LabReport, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	l, ok := r.m.labReports[id]
	if !ok {
		return nil, ErrNotFound
	}
	l.ResultBlobID = &blobID
	return cloneLabReport(l), nil
}

func (r memLabReports) Delete(_ context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.labReports[id]; !ok {
		return ErrNotFound
	}
	delete(r.m.labReports, id)
	return nil
}

func (r memLabReports) DeleteByPatient(_ context.Context, patientID uuid.UUID) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for id, l := range r.m.labReports {
		if l.PatientID == patientID {
			delete(r.m.labReports, id)
			n++
		}
	}
	return n, nil
}

// -- collaborators --

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type stubReader struct {
	meds     []ai.Medicine
	err      error
	calls    int
	mimeType string
	image    []byte
}

func (s *stubReader) ReadPrescription(_ context.Context, image []byte, mimeType string) ([]ai.Medicine, error) {
	s.calls++
	s.image = image
	s.mimeType = mimeType
	return s.meds, s.err
}

type stubTitler struct {
	title string
	err   error
}

func (s stubTitler) GenerateTitle(context.Context, string) (string, error) {
	return s.title, s.err
}

var errBoom = errors.New("boom")
