package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// APIResponse is the envelope of every JSON answer. The transport status is
// always 200; Status carries the outcome.
type APIResponse struct {
	Status  int         `json:"status" example:"200"`
	Message string      `json:"message" example:"OK"`
	Data    interface{} `json:"data,omitempty"`
}

// DataResponse writes data inside the envelope with the given outcome status.
func DataResponse(c echo.Context, status int, data interface{}) error {
	return c.JSON(http.StatusOK, APIResponse{
		Status:  status,
		Message: http.StatusText(status),
		Data:    data,
	})
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

// BadRequestResponse reports request validation failures.
func BadRequestResponse(c echo.Context, errs []ValidationError) error {
	return DataResponse(c, http.StatusBadRequest, errs)
}

// AppErrorResponse reports err with the status of its AppError. Any other
// error becomes an opaque 500.
func AppErrorResponse(c echo.Context, err error) error {
	appErr := AsAppError(err)
	return DataResponse(c, appErr.Status, []*AppError{appErr})
}
