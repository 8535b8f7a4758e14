package adminapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/talkincode/wamux/internal/errors"
	"github.com/talkincode/wamux/internal/webserver"
	"github.com/talkincode/wamux/internal/whatsapp"
)

// Init registers every admin route on the global webserver.
func Init() {
	registerHealthRoutes()
	registerInstanceRoutes()
	registerMessageRoutes()
	registerWebhookRoutes()
	registerMetricsRoutes()
}

// Response is the JSON envelope of every API reply.
type Response struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func created(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}

func fail(c echo.Context, status int, code, message string, details interface{}) error {
	return c.JSON(status, Response{Success: false, Code: code, Message: message, Data: details})
}

var kindStatus = map[errors.Kind]int{
	errors.KindNotFound:         http.StatusNotFound,
	errors.KindAlreadyExists:    http.StatusConflict,
	errors.KindInvalidArgument:  http.StatusBadRequest,
	errors.KindNotConnected:     http.StatusConflict,
	errors.KindAlreadyConnected: http.StatusConflict,
	errors.KindTransportFailure: http.StatusBadGateway,
	errors.KindDeliveryFailure:  http.StatusBadGateway,
}

// failErr maps a service error to its HTTP status and code.
func failErr(c echo.Context, err error) error {
	kind := errors.KindOf(err)
	status, known := kindStatus[kind]
	if !known {
		status = http.StatusInternalServerError
		kind = errors.KindInternal
		zap.L().Error("adminapi: request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err))
	}
	return fail(c, status, strings.ToUpper(string(kind)), err.Error(), nil)
}

func service(c echo.Context) (*whatsapp.Service, error) {
	svc := whatsapp.Get()
	if svc == nil {
		return nil, fail(c, http.StatusServiceUnavailable, "WA_NOT_INITIALIZED", "WhatsApp service not initialized", nil)
	}
	return svc, nil
}

// GetDB returns the application database.
func GetDB(c echo.Context) *gorm.DB {
	return webserver.AppContext(c).DB()
}
