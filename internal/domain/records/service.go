package records

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/clinic/internal/platform/ai"
	"github.com/ehr/clinic/internal/platform/apperr"
	"github.com/ehr/clinic/internal/platform/auth"
	"github.com/ehr/clinic/internal/platform/blobstore"
	"github.com/ehr/clinic/internal/platform/events"
)

const (
	// MinNoteLength is the shortest note content a title is generated for.
	MinNoteLength = 20

	// MaxAge bounds patient ages; the column is a 32-bit integer.
	MaxAge = 150

	// MaxLabReports is the most lab report files one registration may carry.
	MaxLabReports = 10
)

var (
	ErrPatientNotFound   = apperr.NotFound("Patient not found")
	ErrVisitNotFound     = apperr.NotFound("Visit not found")
	ErrLabReportNotFound = apperr.NotFound("Lab report not found")
	ErrNoVisits          = apperr.NotFound("No visits found for this patient")
	ErrNoFile            = apperr.Validation("No file uploaded")
	ErrNoImage           = apperr.Validation("No image file uploaded")
	ErrAINotConfigured   = apperr.New(apperr.KindUpstream, "AI service is not configured")
)

// Attachment is an uploaded file. Open may be called once per upload attempt.
type Attachment struct {
	FileName    string
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// BytesAttachment wraps an in-memory file.
func BytesAttachment(fileName, contentType string, data []byte) *Attachment {
	return &Attachment{
		FileName:    fileName,
		ContentType: contentType,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(string(data))), nil
		},
	}
}

type RegisterPatientInput struct {
	Name       string
	Age        *int
	Gender     string
	Phone      string
	Photo      *Attachment
	Document   *Attachment
	LabReports []*Attachment
	Vitals     Payload
}

type RegisterResult struct {
	Patient    *PatientRecord
	FirstVisit *Visit
}

// UpdatePatientInput carries a partial update; nil fields are left untouched.
type UpdatePatientInput struct {
	Name     *string
	Age      *int
	Gender   *string
	Phone    *string
	Photo    *Attachment
	Document *Attachment
}

type VisitInput struct {
	Vitals     Payload `json:"vitals"`
	DoctorNote Payload `json:"doctorNote"`
	Medicines  Payload `json:"medicines"`
}

type LabReportInput struct {
	TestName string
	VisitID  *uuid.UUID
	File     *Attachment
}

// Service runs the multi-step patient record workflows. Steps are not wrapped
// in a transaction: a failure leaves earlier steps committed, and a child
// record is always created before its id is appended to the patient.
type Service struct {
	repos     Repos
	blobs     blobstore.Store
	publisher events.Publisher
	titles    ai.TitleGenerator
	reader    ai.PrescriptionReader
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repos Repos, blobs blobstore.Store, logger zerolog.Logger) *Service {
	return &Service{
		repos:     repos,
		blobs:     blobs,
		publisher: events.Noop{},
		logger:    logger.With().Str("component", "records").Logger(),
		now:       time.Now,
	}
}

// SetPublisher attaches the lifecycle event publisher.
func (s *Service) SetPublisher(p events.Publisher) { s.publisher = p }

func (s *Service) SetTitleGenerator(g ai.TitleGenerator) { s.titles = g }

func (s *Service) SetPrescriptionReader(r ai.PrescriptionReader) { s.reader = r }

// -- Patients --

func (s *Service) ListPatients(ctx context.Context) ([]*PatientListItem, error) {
	patients, err := s.repos.Patients.List(ctx)
	if err != nil {
		return nil, storageErr("Failed to fetch patients", err)
	}
	recs, err := Populate(ctx, s.repos, patients)
	if err != nil {
		return nil, storageErr("Failed to fetch patients", err)
	}
	items := make([]*PatientListItem, 0, len(recs))
	for _, rec := range recs {
		items = append(items, newPatientListItem(rec))
	}
	return items, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*PatientRecord, error) {
	p, err := s.repos.Patients.GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, ErrPatientNotFound, "Failed to fetch patient")
	}
	return s.populateOne(ctx, p, "Failed to fetch patient")
}

func (s *Service) populateOne(ctx context.Context, p *Patient, msg string) (*PatientRecord, error) {
	recs, err := Populate(ctx, s.repos, []*Patient{p})
	if err != nil {
		return nil, storageErr(msg, err)
	}
	return recs[0], nil
}

// RegisterPatient uploads the supplied files concurrently, creates the
// patient, its lab reports and a first visit, and returns the populated
// patient. Malformed vitals yield a first visit with empty vitals.
func (s *Service) RegisterPatient(ctx context.Context, in RegisterPatientInput) (*RegisterResult, error) {
	if err := validateDemographics(&in.Name, in.Age, &in.Gender); err != nil {
		return nil, err
	}
	if len(in.LabReports) > MaxLabReports {
		return nil, apperr.Validation("At most %d lab reports may be uploaded", MaxLabReports)
	}
	for _, f := range in.LabReports {
		if f == nil {
			return nil, ErrNoFile
		}
	}

	var photoID, documentID *string
	labBlobIDs := make([]string, len(in.LabReports))

	g, gctx := errgroup.WithContext(ctx)
	if in.Photo != nil {
		g.Go(func() error {
			id, err := s.upload(gctx, in.Photo)
			photoID = &id
			return err
		})
	}
	if in.Document != nil {
		g.Go(func() error {
			id, err := s.upload(gctx, in.Document)
			documentID = &id
			return err
		})
	}
	for i, f := range in.LabReports {
		g.Go(func() error {
			id, err := s.upload(gctx, f)
			labBlobIDs[i] = id
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p := &Patient{
		Name:           in.Name,
		Age:            *in.Age,
		Gender:         in.Gender,
		Phone:          strings.TrimSpace(in.Phone),
		PhotoBlobID:    photoID,
		DocumentBlobID: documentID,
	}
	if err := s.repos.Patients.Create(ctx, p); err != nil {
		return nil, storageErr("Failed to register patient", err)
	}

	now := s.now()
	for _, blobID := range labBlobIDs {
		report := &LabReport{
			PatientID:    p.ID,
			TestName:     DefaultLabReportName,
			TestDate:     now,
			ResultBlobID: &blobID,
		}
		if err := s.repos.LabReports.Create(ctx, report); err != nil {
			return nil, storageErr("Failed to register patient", err)
		}
		if err := s.repos.Patients.AppendLabReport(ctx, p.ID, report.ID); err != nil {
			return nil, storageErr("Failed to register patient", err)
		}
	}

	vitals, err := DecodeVitals(in.Vitals)
	if err != nil {
		s.logger.Warn().Err(err).Str("patient_id", p.ID.String()).Msg("ignoring malformed vitals")
		vitals = Vitals{}
	}
	first := &Visit{
		PatientID: p.ID,
		VisitDate: now,
		Vitals:    vitals,
	}
	if err := s.repos.Visits.Create(ctx, first); err != nil {
		return nil, storageErr("Failed to register patient", err)
	}
	if err := s.repos.Patients.AppendVisit(ctx, p.ID, first.ID); err != nil {
		return nil, storageErr("Failed to register patient", err)
	}

	stored, err := s.repos.Patients.GetByID(ctx, p.ID)
	if err != nil {
		return nil, lookupErr(err, ErrPatientNotFound, "Failed to register patient")
	}
	rec, err := s.populateOne(ctx, stored, "Failed to register patient")
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Str("patient_id", p.ID.String()).Int("lab_reports", len(labBlobIDs)).Msg("patient registered")
	s.publish(ctx, events.PatientRegistered, p.ID, p.ID)
	return &RegisterResult{Patient: rec, FirstVisit: first}, nil
}

// UpdatePatient uploads replacement files and applies a partial update. The
// blobs they replace are kept.
func (s *Service) UpdatePatient(ctx context.Context, id uuid.UUID, in UpdatePatientInput) (*Patient, error) {
	p, err := s.repos.Patients.GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, ErrPatientNotFound, "Failed to update patient")
	}

	if in.Name != nil {
		p.Name = *in.Name
	}
	if in.Age != nil {
		p.Age = *in.Age
	}
	if in.Gender != nil {
		p.Gender = *in.Gender
	}
	if in.Phone != nil {
		p.Phone = strings.TrimSpace(*in.Phone)
	}
	if err := validateDemographics(&p.Name, &p.Age, &p.Gender); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	if in.Photo != nil {
		g.Go(func() error {
			blobID, err := s.upload(gctx, in.Photo)
			p.PhotoBlobID = &blobID
			return err
		})
	}
	if in.Document != nil {
		g.Go(func() error {
			blobID, err := s.upload(gctx, in.Document)
			p.DocumentBlobID = &blobID
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := s.repos.Patients.Update(ctx, p); err != nil {
		return nil, lookupErr(err, ErrPatientNotFound, "Failed to update patient")
	}
	s.publish(ctx, events.PatientUpdated, p.ID, p.ID)
	return p, nil
}

// DeletePatient removes the patient and bulk deletes its lab reports and
// visits. Prescriptions and blobs they reference are kept.
func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	if err := s.repos.Patients.Delete(ctx, id); err != nil {
		return lookupErr(err, ErrPatientNotFound, "Failed to delete patient")
	}
	reports, err := s.repos.LabReports.DeleteByPatient(ctx, id)
	if err != nil {
		return storageErr("Failed to delete patient", err)
	}
	visits, err := s.repos.Visits.DeleteByPatient(ctx, id)
	if err != nil {
		return storageErr("Failed to delete patient", err)
	}
	s.logger.Debug().Str("patient_id", id.String()).
		Int64("lab_reports", reports).Int64("visits", visits).Msg("patient deleted")
	s.publish(ctx, events.PatientDeleted, id, id)
	return nil
}

// -- Visits --

// ListPatientVisits returns a patient's visits in insertion order with their
// prescriptions resolved.
func (s *Service) ListPatientVisits(ctx context.Context, patientID uuid.UUID) ([]*VisitDetail, error) {
	visits, err := s.repos.Visits.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, storageErr("Failed to fetch visits", err)
	}
	rxs, err := prescriptionsFor(ctx, s.repos.Prescriptions, visits)
	if err != nil {
		return nil, storageErr("Failed to fetch visits", err)
	}
	out := make([]*VisitDetail, 0, len(visits))
	for _, v := range visits {
		out = append(out, newVisitDetail(v, linked(rxs, v)))
	}
	return out, nil
}

// AddVisit records a visit for an existing patient. Malformed vitals degrade
// to empty vitals; a malformed doctor note rejects the request.
func (s *Service) AddVisit(ctx context.Context, patientID uuid.UUID, in VisitInput) (*Visit, error) {
	note, err := DecodeDoctorNote(in.DoctorNote)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "Invalid doctorNote", err)
	}
	meds, isList, err := DecodeMedicines(in.Medicines)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "Invalid medicines", err)
	}
	vitals, err := DecodeVitals(in.Vitals)
	if err != nil {
		s.logger.Warn().Err(err).Str("patient_id", patientID.String()).Msg("ignoring malformed vitals")
		vitals = Vitals{}
	}

	if _, err := s.repos.Patients.GetByID(ctx, patientID); err != nil {
		return nil, lookupErr(err, ErrPatientNotFound, "Failed to add visit")
	}

	v := &Visit{
		PatientID:  patientID,
		VisitDate:  s.now(),
		Vitals:     vitals,
		DoctorNote: note,
	}
	if isList && len(meds) > 0 {
		rx := &Prescription{Medicines: meds}
		if err := s.repos.Prescriptions.Create(ctx, rx); err != nil {
			return nil, storageErr("Failed to add visit", err)
		}
		v.PrescriptionID = &rx.ID
	}
	if err := s.repos.Visits.Create(ctx, v); err != nil {
		return nil, storageErr("Failed to add visit", err)
	}
	if err := s.repos.Patients.AppendVisit(ctx, patientID, v.ID); err != nil {
		return nil, lookupErr(err, ErrPatientNotFound, "Failed to add visit")
	}
	s.publish(ctx, events.VisitAdded, patientID, v.ID)
	return v, nil
}

// UpdateVisit overwrites each supplied field. A medicine list rewrites the
// linked prescription in place, or creates and links one when there is none.
func (s *Service) UpdateVisit(ctx context.Context, visitID uuid.UUID, in VisitInput) (*Visit, error) {
	v, err := s.repos.Visits.GetByID(ctx, visitID)
	if err != nil {
		return nil, lookupErr(err, ErrVisitNotFound, "Failed to update visit")
	}

	if in.Vitals.Present() {
		vitals, err := DecodeVitals(in.Vitals)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "Invalid vitals", err)
		}
		v.Vitals = vitals
	}
	if in.DoctorNote.Present() {
		note, err := DecodeDoctorNote(in.DoctorNote)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "Invalid doctorNote", err)
		}
		v.DoctorNote = note
	}
	meds, isList, err := DecodeMedicines(in.Medicines)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "Invalid medicines", err)
	}
	if isList {
		if err := s.setMedicines(ctx, v, meds); err != nil {
			return nil, err
		}
	}

	if err := s.repos.Visits.Update(ctx, v); err != nil {
		return nil, lookupErr(err, ErrVisitNotFound, "Failed to update visit")
	}
	s.publish(ctx, events.VisitUpdated, v.PatientID, v.ID)
	return v, nil
}

func (s *Service) setMedicines(ctx context.Context, v *Visit, meds []Medicine) error {
	if v.PrescriptionID != nil {
		err := s.repos.Prescriptions.UpdateMedicines(ctx, *v.PrescriptionID, meds)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return storageErr("Failed to update visit", err)
		}
	}
	rx := &Prescription{Medicines: meds}
	if err := s.repos.Prescriptions.Create(ctx, rx); err != nil {
		return storageErr("Failed to update visit", err)
	}
	v.PrescriptionID = &rx.ID
	return nil
}

// UpdateDoctorNote replaces a visit's doctor note. Both title and content are
// required.
func (s *Service) UpdateDoctorNote(ctx context.Context, visitID uuid.UUID, note DoctorNote) (*Visit, error) {
	if strings.TrimSpace(note.Title) == "" || strings.TrimSpace(note.Content) == "" {
		return nil, apperr.Validation("doctorNote {title, content} required")
	}
	v, err := s.repos.Visits.GetByID(ctx, visitID)
	if err != nil {
		return nil, lookupErr(err, ErrVisitNotFound, "Failed to update visit")
	}
	v.DoctorNote = note
	if err := s.repos.Visits.Update(ctx, v); err != nil {
		return nil, lookupErr(err, ErrVisitNotFound, "Failed to update visit")
	}
	s.publish(ctx, events.VisitUpdated, v.PatientID, v.ID)
	return v, nil
}

// DeleteVisit deletes the visit and then removes it from its patient's list.
func (s *Service) DeleteVisit(ctx context.Context, visitID uuid.UUID) error {
	v, err := s.repos.Visits.GetByID(ctx, visitID)
	if err != nil {
		return lookupErr(err, ErrVisitNotFound, "Failed to delete visit")
	}
	if err := s.repos.Visits.Delete(ctx, visitID); err != nil {
		return lookupErr(err, ErrVisitNotFound, "Failed to delete visit")
	}
	if err := s.repos.Patients.RemoveVisit(ctx, v.PatientID, visitID); err != nil && !errors.Is(err, ErrNotFound) {
		return storageErr("Failed to delete visit", err)
	}
	s.publish(ctx, events.VisitDeleted, v.PatientID, visitID)
	return nil
}

// VisitsOnDate lists the visits whose date falls on day, in day's location,
// with a summary of each patient. Visits of deleted patients are skipped.
func (s *Service) VisitsOnDate(ctx context.Context, day time.Time) ([]*DayVisit, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1).Add(-time.Microsecond)

	visits, err := s.repos.Visits.ListBetween(ctx, start, end)
	if err != nil {
		return nil, storageErr("Failed to fetch visits", err)
	}
	if len(visits) == 0 {
		return []*DayVisit{}, nil
	}

	seen := map[uuid.UUID]bool{}
	var patientIDs []uuid.UUID
	for _, v := range visits {
		if !seen[v.PatientID] {
			seen[v.PatientID] = true
			patientIDs = append(patientIDs, v.PatientID)
		}
	}
	found, err := s.repos.Patients.GetByIDs(ctx, patientIDs)
	if err != nil {
		return nil, storageErr("Failed to fetch visits", err)
	}
	patients := make(map[uuid.UUID]*Patient, len(found))
	for _, p := range found {
		patients[p.ID] = p
	}
	rxs, err := prescriptionsFor(ctx, s.repos.Prescriptions, visits)
	if err != nil {
		return nil, storageErr("Failed to fetch visits", err)
	}

	out := make([]*DayVisit, 0, len(visits))
	for _, v := range visits {
		p, ok := patients[v.PatientID]
		if !ok {
			continue
		}
		out = append(out, newDayVisit(v, p, linked(rxs, v)))
	}
	return out, nil
}

// LatestVisit returns the patient's visit with the most recent visit date.
func (s *Service) LatestVisit(ctx context.Context, patientID uuid.UUID) (*VisitDetail, error) {
	v, err := s.repos.Visits.LatestByPatient(ctx, patientID)
	if err != nil {
		return nil, lookupErr(err, ErrNoVisits, "Failed to fetch latest visit")
	}
	rxs, err := prescriptionsFor(ctx, s.repos.Prescriptions, []*Visit{v})
	if err != nil {
		return nil, storageErr("Failed to fetch latest visit", err)
	}
	return newVisitDetail(v, linked(rxs, v)), nil
}

func linked(rxs map[uuid.UUID]*Prescription, v *Visit) *Prescription {
	if v.PrescriptionID == nil {
		return nil
	}
	return rxs[*v.PrescriptionID]
}

// -- Lab reports --

func (s *Service) AttachLabReport(ctx context.Context, patientID uuid.UUID, in LabReportInput) (*LabReport, error) {
	if in.File == nil {
		return nil, ErrNoFile
	}
	if _, err := s.repos.Patients.GetByID(ctx, patientID); err != nil {
		return nil, lookupErr(err, ErrPatientNotFound, "Failed to add lab report")
	}
	blobID, err := s.upload(ctx, in.File)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.TestName)
	if name == "" {
		name = DefaultLabReportName
	}
	report := &LabReport{
		PatientID:    patientID,
		TestName:     name,
		TestDate:     s.now(),
		ResultBlobID: &blobID,
		VisitID:      in.VisitID,
	}
	if err := s.repos.LabReports.Create(ctx, report); err != nil {
		return nil, storageErr("Failed to add lab report", err)
	}
	if err := s.repos.Patients.AppendLabReport(ctx, patientID, report.ID); err != nil {
		return nil, lookupErr(err, ErrPatientNotFound, "Failed to add lab report")
	}
	s.publish(ctx, events.LabReportAttached, patientID, report.ID)
	return report, nil
}

// ReplaceLabReportFile uploads file and points the report at it. The report's
// id and other fields are unchanged and the old blob is kept.
func (s *Service) ReplaceLabReportFile(ctx context.Context, reportID uuid.UUID, file *Attachment) (*LabReport, error) {
	if file == nil {
		return nil, ErrNoFile
	}
	if _, err := s.repos.LabReports.GetByID(ctx, reportID); err != nil {
		return nil, lookupErr(err, ErrLabReportNotFound, "Failed to update lab report")
	}
	blobID, err := s.upload(ctx, file)
	if err != nil {
		return nil, err
	}
	report, err := s.repos.LabReports.UpdateResult(ctx, reportID, blobID)
	if err != nil {
		return nil, lookupErr(err, ErrLabReportNotFound, "Failed to update lab report")
	}
	s.publish(ctx, events.LabReportReplaced, report.PatientID, report.ID)
	return report, nil
}

// DeleteLabReport deletes the report, then removes it from its patient's
// list. A failure of the second step is logged and does not fail the call.
func (s *Service) DeleteLabReport(ctx context.Context, reportID uuid.UUID) error {
	report, err := s.repos.LabReports.GetByID(ctx, reportID)
	if err != nil {
		return lookupErr(err, ErrLabReportNotFound, "Failed to delete lab report")
	}
	if err := s.repos.LabReports.Delete(ctx, reportID); err != nil {
		return lookupErr(err, ErrLabReportNotFound, "Failed to delete lab report")
	}
	if err := s.repos.Patients.RemoveLabReport(ctx, report.PatientID, reportID); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Warn().Err(err).
			Str("patient_id", report.PatientID.String()).
			Str("lab_report_id", reportID.String()).
			Msg("failed to detach deleted lab report")
	}
	s.publish(ctx, events.LabReportDeleted, report.PatientID, reportID)
	return nil
}

// DownloadLabReport opens the report's result blob. The caller closes the
// returned reader.
func (s *Service) DownloadLabReport(ctx context.Context, reportID uuid.UUID) (io.ReadCloser, blobstore.Metadata, error) {
	report, err := s.repos.LabReports.GetByID(ctx, reportID)
	if err != nil {
		return nil, blobstore.Metadata{}, lookupErr(err, apperr.NotFound("Lab report or file not found"), "Failed to download lab report")
	}
	if report.ResultBlobID == nil {
		return nil, blobstore.Metadata{}, apperr.NotFound("Lab report or file not found")
	}
	rc, meta, err := s.blobs.Get(ctx, *report.ResultBlobID)
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			return nil, blobstore.Metadata{}, apperr.NotFound("File not found in blob store")
		}
		return nil, blobstore.Metadata{}, blobErr("Failed to download lab report", err)
	}
	return rc, meta, nil
}

// -- AI-assisted --

// AttachPrescriptionFromImage reads a prescription image into a medicine list
// and links a new prescription holding it to the visit.
func (s *Service) AttachPrescriptionFromImage(ctx context.Context, visitID uuid.UUID, image *Attachment) ([]Medicine, error) {
	if image == nil {
		return nil, ErrNoImage
	}
	if s.reader == nil {
		return nil, ErrAINotConfigured
	}
	v, err := s.repos.Visits.GetByID(ctx, visitID)
	if err != nil {
		return nil, lookupErr(err, ErrVisitNotFound, "Failed to process prescription")
	}

	data, err := readAttachment(image)
	if err != nil {
		return nil, err
	}
	mimeType := ai.ResolveImageMIME(image.FileName, image.ContentType)
	read, err := s.reader.ReadPrescription(ctx, data, mimeType)
	if err != nil {
		if errors.Is(err, ai.ErrUnparseable) {
			return nil, apperr.Wrap(apperr.KindUpstream, "Failed to parse prescription reader output as JSON", err)
		}
		return nil, apperr.Wrap(apperr.KindUpstream, "Failed to process prescription", err)
	}

	meds := make([]Medicine, 0, len(read))
	for _, m := range read {
		meds = append(meds, Medicine(m))
	}
	rx := &Prescription{Medicines: meds}
	if err := s.repos.Prescriptions.Create(ctx, rx); err != nil {
		return nil, storageErr("Failed to process prescription", err)
	}
	v.PrescriptionID = &rx.ID
	if err := s.repos.Visits.Update(ctx, v); err != nil {
		return nil, lookupErr(err, ErrVisitNotFound, "Failed to process prescription")
	}
	s.publish(ctx, events.PrescriptionAttached, v.PatientID, rx.ID)
	return meds, nil
}

// GenerateNoteTitle asks the title model for a short title for a clinical note.
func (s *Service) GenerateNoteTitle(ctx context.Context, content string) (string, error) {
	if utf8.RuneCountInString(content) < MinNoteLength {
		return "", apperr.Validation("Insufficient content to generate title")
	}
	if s.titles == nil {
		return "", ErrAINotConfigured
	}
	title, err := s.titles.GenerateTitle(ctx, content)
	if err != nil {
		return "", apperr.Wrap(apperr.KindUpstream, "AI title generation failed", err)
	}
	return title, nil
}

// -- helpers --

func validateDemographics(name *string, age *int, gender *string) error {
	*name = strings.TrimSpace(*name)
	*gender = strings.TrimSpace(*gender)
	switch {
	case *name == "":
		return apperr.Validation("Name is required")
	case age == nil:
		return apperr.Validation("Age is required")
	case *age < 0:
		return apperr.Validation("Age must not be negative")
	case *age > MaxAge:
		return apperr.Validation("Age must be at most %d", MaxAge)
	case *gender == "":
		return apperr.Validation("Gender is required")
	}
	return nil
}

func (s *Service) upload(ctx context.Context, a *Attachment) (string, error) {
	rc, err := a.Open()
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, "Could not read uploaded file", err)
	}
	defer rc.Close()
	meta, err := s.blobs.Put(ctx, a.FileName, a.ContentType, rc)
	if err != nil {
		return "", blobErr("Failed to store file", err)
	}
	return meta.ID, nil
}

func readAttachment(a *Attachment) ([]byte, error) {
	rc, err := a.Open()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "Could not read uploaded file", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, blobstore.MaxFileSize+1))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "Could not read uploaded file", err)
	}
	if int64(len(data)) > blobstore.MaxFileSize {
		return nil, blobstore.ErrFileTooLarge
	}
	return data, nil
}

func (s *Service) publish(ctx context.Context, t events.Type, patientID, entityID uuid.UUID) {
	e := events.New(t, patientID.String(), entityID.String(), auth.UserIDFromContext(ctx))
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn().Err(err).
			Str("event_type", string(t)).
			Str("entity_id", e.EntityID).
			Msg("failed to publish record event")
	}
}

func storageErr(msg string, err error) error {
	return apperr.Wrap(apperr.KindStorage, msg, err)
}

// lookupErr maps a repository miss to nf and anything else to a storage error.
func lookupErr(err, nf error, msg string) error {
	if errors.Is(err, ErrNotFound) {
		return nf
	}
	return storageErr(msg, err)
}

// blobErr keeps caller-facing blob store errors as they are and classifies
// the rest, defaulting to an upstream failure.
func blobErr(msg string, err error) error {
	switch kind := apperr.KindOf(err); kind {
	case apperr.KindValidation, apperr.KindNotFound:
		return err
	case apperr.KindInternal:
		return apperr.Wrap(apperr.KindUpstream, msg, err)
	default:
		return apperr.Wrap(kind, msg, err)
	}
}
