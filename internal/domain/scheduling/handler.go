package scheduling

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/pagination"
)

// Notifier delivers booking events to the Notification Service. Notify
// must not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, eventType, templateID, recipient string, data map[string]string)
}

// Contacts resolves where a patient's notifications are sent.
type Contacts interface {
	PatientEmail(ctx context.Context, id uuid.UUID) (string, error)
}

// kindRoutes holds the per-kind HTTP surface.
type kindRoutes struct {
	prefix          string
	providerPath    string
	bookedEvent     string
	canceledEvent   string
	bookedTemplate  string
	canceledTmpl    string
	upcomingMessage string
	canceledMessage string
}

var routesByKind = map[ProviderKind]kindRoutes{
	KindDoctor: {
		prefix:          "/appointments",
		providerPath:    "/doctors/:id/available",
		bookedEvent:     "appointment.booked",
		canceledEvent:   "appointment.canceled",
		bookedTemplate:  "appointment-booked",
		canceledTmpl:    "appointment-canceled",
		upcomingMessage: "Upcoming appointments retrieved successfully",
		canceledMessage: "Canceled appointments retrieved successfully",
	},
	KindMedicalTest: {
		prefix:          "/medical-test-appointments",
		providerPath:    "/tests/:id/available",
		bookedEvent:     "medical_test.booked",
		canceledEvent:   "medical_test.canceled",
		bookedTemplate:  "medical-test-booked",
		canceledTmpl:    "medical-test-canceled",
		upcomingMessage: "Upcoming medical test appointments retrieved successfully",
		canceledMessage: "Canceled medical test appointments retrieved successfully",
	},
}

type Handler struct {
	engine   *Engine
	notifier Notifier
	contacts Contacts
	routes   kindRoutes
}

// NewHandler exposes engine over HTTP. notifier and contacts may be nil.
func NewHandler(engine *Engine, notifier Notifier, contacts Contacts) *Handler {
	return &Handler{
		engine:   engine,
		notifier: notifier,
		contacts: contacts,
		routes:   routesByKind[engine.Kind()],
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group(h.routes.prefix)

	// Read endpoints for patients choosing a slot and doctors checking their day
	g.GET(h.routes.providerPath, h.ListAvailable, auth.RequireRole(auth.RolePatient, auth.RoleDoctor))

	// Patient endpoints
	pg := g.Group("", auth.RequireExactRole(auth.RolePatient))
	pg.POST("", h.Book)
	pg.GET("/upcoming", h.ListUpcoming)
	pg.GET("/canceled", h.ListCanceled)
	pg.DELETE("/:id", h.Cancel)
}

type availabilityResponse struct {
	Date    string   `json:"date"`
	Slots   []string `json:"slots"`
	Message string   `json:"message"`
}

// bookRequest is the body of both booking endpoints. For doctor
// appointments doc_id names the provider; for medical tests test_id does and
// doc_id is the requesting doctor.
type bookRequest struct {
	TestID   string `json:"test_id" validate:"omitempty,uuid"`
	DoctorID string `json:"doc_id" validate:"required,uuid"`
	Date     string `json:"appoint_date" validate:"required,date"`
	Time     string `json:"appoint_time" validate:"required,hhmm"`
}

type bookResponse struct {
	Appointment *Reservation `json:"appointment"`
	Message     string       `json:"message"`
}

type cancelResponse struct {
	Canceled *CanceledReservation `json:"canceled"`
	Message  string               `json:"message"`
}

type listResponse struct {
	*pagination.Response
	Message string `json:"message"`
}

func (h *Handler) ListAvailable(c echo.Context) error {
	providerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	avail, err := h.engine.ListAvailable(c.Request().Context(), providerID, c.QueryParam("date"))
	if err != nil {
		return h.httpError(c, err)
	}
	msg := "Available appointments retrieved successfully"
	if len(avail.Slots) == 0 {
		msg = "No available appointments for this date."
	}
	return c.JSON(http.StatusOK, availabilityResponse{Date: avail.Date, Slots: avail.Slots, Message: msg})
}

func (h *Handler) Book(c echo.Context) error {
	ctx := c.Request().Context()
	patientID, err := auth.PatientID(ctx)
	if err != nil {
		return err
	}

	var body bookRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&body); err != nil {
		return err
	}

	req := BookRequest{
		PatientID: patientID,
		Date:      body.Date,
		Time:      body.Time,
	}
	doctorID := uuid.MustParse(body.DoctorID)
	if h.engine.Kind() == KindMedicalTest {
		if body.TestID == "" {
			return h.httpError(c, ErrInvalidInput.withMessage("The test id field is required."))
		}
		req.ProviderID = uuid.MustParse(body.TestID)
		req.DoctorID = &doctorID
	} else {
		req.ProviderID = doctorID
	}

	r, err := h.engine.Book(ctx, req)
	if err != nil {
		return h.httpError(c, err)
	}
	h.notify(ctx, h.routes.bookedEvent, h.routes.bookedTemplate, r)
	return c.JSON(http.StatusCreated, bookResponse{Appointment: r, Message: h.engine.SuccessMessage(false)})
}

func (h *Handler) Cancel(c echo.Context) error {
	ctx := c.Request().Context()
	patientID, err := auth.PatientID(ctx)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return h.httpError(c, ErrNotFound)
	}

	canceled, err := h.engine.Cancel(ctx, id, patientID)
	if err != nil {
		return h.httpError(c, err)
	}
	h.notify(ctx, h.routes.canceledEvent, h.routes.canceledTmpl, &canceled.Reservation)
	return c.JSON(http.StatusOK, cancelResponse{Canceled: canceled, Message: h.engine.SuccessMessage(true)})
}

func (h *Handler) ListUpcoming(c echo.Context) error {
	ctx := c.Request().Context()
	patientID, err := auth.PatientID(ctx)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.engine.ListUpcoming(ctx, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return h.httpError(c, err)
	}
	if items == nil {
		items = []*Reservation{}
	}
	return c.JSON(http.StatusOK, listResponse{
		Response: pagination.NewResponse(items, total, pg.Limit, pg.Offset),
		Message:  h.routes.upcomingMessage,
	})
}

func (h *Handler) ListCanceled(c echo.Context) error {
	ctx := c.Request().Context()
	patientID, err := auth.PatientID(ctx)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.engine.ListCanceled(ctx, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return h.httpError(c, err)
	}
	if items == nil {
		items = []*CanceledReservation{}
	}
	return c.JSON(http.StatusOK, listResponse{
		Response: pagination.NewResponse(items, total, pg.Limit, pg.Offset),
		Message:  h.routes.canceledMessage,
	})
}

func (h *Handler) notify(ctx context.Context, eventType, templateID string, r *Reservation) {
	if h.notifier == nil {
		return
	}
	recipient := r.PatientID.String()
	if h.contacts != nil {
		email, err := h.contacts.PatientEmail(ctx, r.PatientID)
		if err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Str("patient_id", recipient).Msg("no patient email, addressing by id")
		} else {
			recipient = email
		}
	}
	data := map[string]string{
		"reservation_id": r.ID.String(),
		"patient_id":     r.PatientID.String(),
		"provider_kind":  string(r.Kind),
		"provider_id":    r.ProviderID.String(),
		"date":           r.Date,
		"time":           r.Time,
	}
	if r.DoctorID != nil {
		data["doctor_id"] = r.DoctorID.String()
	}
	h.notifier.Notify(ctx, eventType, templateID, recipient, data)
}

// httpError renders domain errors with their status and message. Anything
// else is logged and reported as a 500.
func (h *Handler) httpError(c echo.Context, err error) error {
	if de, ok := AsError(err); ok {
		return echo.NewHTTPError(de.Status, de.Message)
	}
	zerolog.Ctx(c.Request().Context()).Error().Err(err).
		Str("provider_kind", string(h.engine.Kind())).
		Msg("scheduling request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
