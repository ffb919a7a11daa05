package account

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/signup", h.Signup)
	api.POST("/auth/login", h.Login)
}

type signupResponse struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
	Email   string `json:"email"`
	Role    string `json:"role"`
}

type loginResponse struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
	Token   string `json:"token"`
	Email   string `json:"email"`
	Role    string `json:"role"`
}

func (h *Handler) Signup(c echo.Context) error {
	var in SignupInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.Signup(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, signupResponse{
		Success: true,
		Msg:     "Signup successful",
		Email:   u.Email,
		Role:    u.Role,
	})
}

func (h *Handler) Login(c echo.Context) error {
	var in LoginInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.Login(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, loginResponse{
		Success: true,
		Msg:     "Login successful",
		Token:   res.Token,
		Email:   res.User.Email,
		Role:    res.User.Role,
	})
}
