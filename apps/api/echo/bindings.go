package echoapi

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/auth"
	"github.com/SkTech0/VirtualClassroom-sub000/core/room"
	"github.com/SkTech0/VirtualClassroom-sub000/core/user"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

type (
	LoginRequest struct {
		Username string `json:"username" validate:"required"` // username or email
		Password string `json:"password" validate:"required"`
	}

	RefreshRequest struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	VideoTokenRequest struct {
		Room string `json:"room" validate:"required,roomcode"`
	}

	AuthResponse struct {
		User user.User `json:"user"`
		auth.TokenPair
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}
)

func (r *LoginRequest) Validate(validate *validator.Validate) error {
	r.Username = core.CleanString(r.Username, true /* lower */)
	return validate.Struct(r)
}

func (r *RefreshRequest) Validate(validate *validator.Validate) error {
	r.RefreshToken = strings.TrimSpace(r.RefreshToken)
	return validate.Struct(r)
}

func (r *PasswordResetRequest) Validate(validate *validator.Validate) error {
	r.Email = core.CleanString(r.Email, true /* lower */)
	return validate.Struct(r)
}

func (r *VideoTokenRequest) Validate(validate *validator.Validate) error {
	r.Room = room.NormalizeCode(r.Room)
	return validate.Struct(r)
}
