package records

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/clinic/internal/platform/apperr"
	"github.com/ehr/clinic/internal/platform/blobstore"
)

type Handler struct {
	svc *Service
	loc *time.Location
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, loc: time.Local}
}

// SetLocation sets the time zone calendar dates in visit queries refer to.
func (h *Handler) SetLocation(loc *time.Location) { h.loc = loc }

func (h *Handler) RegisterRoutes(api *echo.Group) {
	p := api.Group("/patients")
	p.GET("", h.ListPatients)
	p.POST("", h.RegisterPatient)
	p.GET("/:id", h.GetPatient)
	p.PUT("/:id", h.UpdatePatient)
	p.DELETE("/:id", h.DeletePatient)
	p.GET("/:id/visits", h.ListPatientVisits)
	p.POST("/:id/visits", h.AddVisit)
	p.PUT("/visits/:visitId", h.UpdateVisit)
	p.POST("/:id/lab-reports", h.AttachLabReport)
	p.PUT("/lab-reports/:reportId", h.ReplaceLabReportFile)
	p.DELETE("/lab-reports/:reportId", h.DeleteLabReport)
	p.GET("/lab-reports/:reportId/download", h.DownloadLabReport)

	v := api.Group("/visits")
	v.GET("/date/:date", h.VisitsOnDate)
	v.GET("/latest/:patientId", h.LatestVisit)
	v.PATCH("/:visitId", h.UpdateDoctorNote)
	v.DELETE("/:visitId", h.DeleteVisit)

	api.POST("/prescriptions/upload", h.UploadPrescription)
	api.POST("/notetitle/generate-title", h.GenerateNoteTitle)
}

// -- Patients --

func (h *Handler) ListPatients(c echo.Context) error {
	items, err := h.svc.ListPatients(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) RegisterPatient(c echo.Context) error {
	f, err := readFields(c)
	if err != nil {
		return err
	}
	in := RegisterPatientInput{
		Photo:      f.file("photo"),
		Document:   f.file("document"),
		LabReports: f.fileList("labReports"),
		Vitals:     f.payload("vitals"),
	}
	in.Name, _ = f.text("name")
	in.Gender, _ = f.text("gender")
	in.Phone, _ = f.text("phone")
	if s, ok := f.text("age"); ok {
		if in.Age, err = parseAge(s); err != nil {
			return err
		}
	}

	res, err := h.svc.RegisterPatient(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":    true,
		"message":    "Patient registered successfully",
		"patient":    res.Patient,
		"firstVisit": res.FirstVisit,
	})
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c, "id", "patient id")
	if err != nil {
		return err
	}
	rec, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := parseID(c, "id", "patient id")
	if err != nil {
		return err
	}
	f, err := readFields(c)
	if err != nil {
		return err
	}
	in := UpdatePatientInput{
		Name:     f.textPtr("name"),
		Gender:   f.textPtr("gender"),
		Phone:    f.textPtr("phone"),
		Photo:    f.file("photo"),
		Document: f.file("document"),
	}
	if s, ok := f.text("age"); ok {
		if in.Age, err = parseAge(s); err != nil {
			return err
		}
	}

	p, err := h.svc.UpdatePatient(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Patient updated successfully",
		"patient": p,
	})
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := parseID(c, "id", "patient id")
	if err != nil {
		return err
	}
	if err := h.svc.DeletePatient(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Patient deleted",
	})
}

// -- Visits --

func (h *Handler) ListPatientVisits(c echo.Context) error {
	id, err := parseID(c, "id", "patient id")
	if err != nil {
		return err
	}
	visits, err := h.svc.ListPatientVisits(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, visits)
}

func visitInput(f *fields) VisitInput {
	return VisitInput{
		Vitals:     f.payload("vitals"),
		DoctorNote: f.payload("doctorNote"),
		Medicines:  f.payload("medicines"),
	}
}

func (h *Handler) AddVisit(c echo.Context) error {
	id, err := parseID(c, "id", "patient id")
	if err != nil {
		return err
	}
	f, err := readFields(c)
	if err != nil {
		return err
	}
	v, err := h.svc.AddVisit(c.Request().Context(), id, visitInput(f))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Visit added successfully",
		"visit":   v,
	})
}

func (h *Handler) UpdateVisit(c echo.Context) error {
	id, err := parseID(c, "visitId", "visit id")
	if err != nil {
		return err
	}
	f, err := readFields(c)
	if err != nil {
		return err
	}
	v, err := h.svc.UpdateVisit(c.Request().Context(), id, visitInput(f))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Visit updated successfully",
		"visit":   v,
	})
}

func (h *Handler) UpdateDoctorNote(c echo.Context) error {
	id, err := parseID(c, "visitId", "visit id")
	if err != nil {
		return err
	}
	f, err := readFields(c)
	if err != nil {
		return err
	}
	note, err := DecodeDoctorNote(f.payload("doctorNote"))
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "doctorNote {title, content} required", err)
	}
	v, err := h.svc.UpdateDoctorNote(c.Request().Context(), id, note)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) DeleteVisit(c echo.Context) error {
	id, err := parseID(c, "visitId", "visit id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteVisit(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Visit deleted",
	})
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// parseDay reads a calendar date or timestamp. Values without a zone are read
// in loc; zoned timestamps are converted to loc before the day is taken.
func parseDay(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.In(loc), nil
		}
	}
	return time.Time{}, apperr.Validation("Invalid date format")
}

func (h *Handler) VisitsOnDate(c echo.Context) error {
	day, err := parseDay(c.Param("date"), h.loc)
	if err != nil {
		return err
	}
	visits, err := h.svc.VisitsOnDate(c.Request().Context(), day)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, visits)
}

func (h *Handler) LatestVisit(c echo.Context) error {
	id, err := parseID(c, "patientId", "patientId")
	if err != nil {
		return err
	}
	v, err := h.svc.LatestVisit(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

// -- Lab reports --

func (h *Handler) AttachLabReport(c echo.Context) error {
	id, err := parseID(c, "id", "patient id")
	if err != nil {
		return err
	}
	f, err := readFields(c)
	if err != nil {
		return err
	}
	in := LabReportInput{File: f.file("labReport")}
	in.TestName, _ = f.text("testName")
	if s, ok := f.text("visitId"); ok && strings.TrimSpace(s) != "" {
		visitID, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return apperr.Validation("Invalid visitId format")
		}
		in.VisitID = &visitID
	}

	report, err := h.svc.AttachLabReport(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"report":  report,
	})
}

func (h *Handler) ReplaceLabReportFile(c echo.Context) error {
	id, err := parseID(c, "reportId", "report id")
	if err != nil {
		return err
	}
	f, err := readFields(c)
	if err != nil {
		return err
	}
	report, err := h.svc.ReplaceLabReportFile(c.Request().Context(), id, f.file("labReport"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"report":  report,
	})
}

func (h *Handler) DeleteLabReport(c echo.Context) error {
	id, err := parseID(c, "reportId", "report id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteLabReport(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handler) DownloadLabReport(c echo.Context) error {
	id, err := parseID(c, "reportId", "report id")
	if err != nil {
		return err
	}
	rc, meta, err := h.svc.DownloadLabReport(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return blobstore.Stream(c, rc, meta, blobstore.DispositionAttachment)
}

// -- AI-assisted --

func (h *Handler) UploadPrescription(c echo.Context) error {
	f, err := readFields(c)
	if err != nil {
		return err
	}
	raw, _ := f.text("visitId")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return apperr.Validation("visitId is required")
	}
	visitID, err := uuid.Parse(raw)
	if err != nil {
		return apperr.Validation("Invalid visitId format")
	}

	meds, err := h.svc.AttachPrescriptionFromImage(c.Request().Context(), visitID, f.file("image"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":       true,
		"message":       "Prescriptions added to visit successfully",
		"prescriptions": meds,
	})
}

func (h *Handler) GenerateNoteTitle(c echo.Context) error {
	var req struct {
		Content string `json:"content" form:"content"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	title, err := h.svc.GenerateNoteTitle(c.Request().Context(), req.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"title":   title,
	})
}
