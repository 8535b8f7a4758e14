package adminapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/talkincode/wamux/internal/webserver"
	"github.com/talkincode/wamux/internal/whatsapp"
)

func registerInstanceRoutes() {
	webserver.ApiGET("/instances", listInstances)
	webserver.ApiPOST("/instances", createInstance)
	webserver.ApiGET("/instances/:id", getInstance)
	webserver.ApiDELETE("/instances/:id", deleteInstance)
	webserver.ApiPOST("/instances/:id/connect", connectInstance)
	webserver.ApiPOST("/instances/:id/disconnect", disconnectInstance)
	webserver.ApiGET("/instances/:id/qrcode", getInstanceQR)
	webserver.ApiGET("/instances/:id/qrcode/image", getInstanceQRImage)
	webserver.ApiPOST("/instances/:id/pairing-code", postPairingCode)
	webserver.ApiGET("/instances/:id/status", getInstanceStatus)
}

func listInstances(c echo.Context) error {
	svc, err := service(c)
	if err != nil {
		return err
	}
	items := svc.List()
	return ok(c, map[string]interface{}{
		"instances": items,
		"total":     len(items),
	})
}

// createInstance request JSON: { "name": "sales", "webhook": "https://..." }
func createInstance(c echo.Context) error {
	svc, err := service(c)
	if err != nil {
		return err
	}
	var payload struct {
		Name    string `json:"name"`
		Webhook string `json:"webhook"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	info, err := svc.Create(c.Request().Context(), payload.Name, payload.Webhook)
	if err != nil {
		return failErr(c, err)
	}
	return created(c, map[string]interface{}{"instance": info})
}

func getInstance(c echo.Context) error {
	svc, err := service(c)
	if err != nil {
		return err
	}
	info, err := svc.Get(c.Param("id"))
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, map[string]interface{}{"instance": info})
}

func deleteInstance(c echo.Context) error {
	svc, err := service(c)
	if err != nil {
		return err
	}
	id := c.Param("id")
	if err := svc.Delete(c.Request().Context(), id); err != nil {
		return failErr(c, err)
	}
	if deliveries := webserver.AppContext(c).Deliveries(); deliveries != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := deliveries.DeleteByInstance(ctx, id); err != nil {
			zap.L().Warn("adminapi: delete delivery log failed", zap.String("instance", id), zap.Error(err))
		}
	}
	return ok(c, map[string]interface{}{"deleted": true, "id": id})
}

func connectInstance(c echo.Context) error {
	svc, err := service(c)
	if err != nil {
		return err
	}
	id := c.Param("id")
	if err := svc.Connect(c.Request().Context(), id); err != nil {
		return failErr(c, err)
	}
	info, err := svc.Get(id)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, map[string]interface{}{"instance": info})
}

func disconnectInstance(c echo.Context) error {
	svc, err := service(c)
	if err != nil {
		return err
	}
	info, err := svc.Disconnect(c.Request().Context(), c.Param("id"))
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, map[string]interface{}{"instance": info})
}

func getInstanceQR(c echo.Context) error {
	svc, err := service(c)
	if err != nil {
		return err
	}
	id := c.Param("id")
	code, found, err := svc.QRCode(id)
	if err != nil {
		return failErr(c, err)
	}
	if !found {
		return fail(c, http.StatusNotFound, "QR_NOT_AVAILABLE", "No QR code pending for this instance", nil)
	}
	st, err := svc.Status(id)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, map[string]interface{}{
		"qrCode": code,
		"status": st.Status,
	})
}

func getInstanceQRImage(c echo.Context) error {
	svc, err := service(c)
	if err != nil {
		return err
	}
	code, found, err := svc.QRCode(c.Param("id"))
	if err != nil {
		return failErr(c, err)
	}
	if !found {
		return fail(c, http.StatusNotFound, "QR_NOT_AVAILABLE", "No QR code pending for this instance", nil)
	}
	png, err := whatsapp.DecodeQR(code)
	if err != nil {
		return failErr(c, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.Blob(http.StatusOK, "image/png", png)
}

// postPairingCode request JSON: { "phone": "5511999999999" }
func postPairingCode(c echo.Context) error {
	svc, err := service(c)
	if err != nil {
		return err
	}
	var payload struct {
		Phone string `json:"phone"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	code, err := svc.RequestPairingCode(c.Request().Context(), c.Param("id"), payload.Phone)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, map[string]interface{}{
		"pairingCode": code,
		"phone":       payload.Phone,
	})
}

func getInstanceStatus(c echo.Context) error {
	svc, err := service(c)
	if err != nil {
		return err
	}
	st, err := svc.Status(c.Param("id"))
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, st)
}
