package adminapi

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/talkincode/wamux/internal/webserver"
	"github.com/talkincode/wamux/internal/whatsapp"
)

func registerMessageRoutes() {
	webserver.ApiPOST("/messages/text", postTextMessage)
	webserver.ApiPOST("/messages/media", postMediaMessage)
	webserver.ApiPOST("/messages/location", postLocationMessage)
	webserver.ApiPOST("/messages/contact", postContactMessage)
}

func sent(c echo.Context, id, to string, res whatsapp.SendResult) error {
	return ok(c, map[string]interface{}{
		"instanceId": id,
		"to":         to,
		"messageId":  res.MessageID,
		"timestamp":  res.Timestamp.Unix(),
	})
}

// postTextMessage request JSON: { "instanceId": "...", "to": "5511...", "message": "hi" }
func postTextMessage(c echo.Context) error {
	svc, err := service(c)
	if err != nil {
		return err
	}
	var payload struct {
		InstanceID string `json:"instanceId"`
		To         string `json:"to"`
		Message    string `json:"message"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.InstanceID == "" || payload.To == "" || payload.Message == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "instanceId, to and message are required", nil)
	}
	res, err := svc.SendText(c.Request().Context(), payload.InstanceID, payload.To, payload.Message)
	if err != nil {
		return failErr(c, err)
	}
	return sent(c, payload.InstanceID, payload.To, res)
}

// postMediaMessage takes multipart fields instanceId, to, caption and file.
// The upload is stored under the uploads dir for the duration of the send.
func postMediaMessage(c echo.Context) error {
	svc, err := service(c)
	if err != nil {
		return err
	}
	id := c.FormValue("instanceId")
	to := c.FormValue("to")
	if id == "" || to == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "instanceId and to are required", nil)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return fail(c, http.StatusBadRequest, "MISSING_FILE", "file is required", err.Error())
	}

	dir := webserver.AppContext(c).Config().GetUploadsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fail(c, http.StatusInternalServerError, "UPLOAD_FAILED", "Unable to store upload", err.Error())
	}
	stored := filepath.Join(dir, uuid.NewString()+filepath.Ext(fh.Filename))
	if err := saveUpload(fh, stored); err != nil {
		return fail(c, http.StatusInternalServerError, "UPLOAD_FAILED", "Unable to store upload", err.Error())
	}
	defer func() {
		if err := os.Remove(stored); err != nil {
			zap.L().Warn("adminapi: remove upload failed", zap.String("file", stored), zap.Error(err))
		}
	}()

	res, err := svc.SendMedia(c.Request().Context(), id, to, stored, c.FormValue("caption"), filepath.Base(fh.Filename))
	if err != nil {
		return failErr(c, err)
	}
	return sent(c, id, to, res)
}

func saveUpload(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return fmt.Errorf("write upload: %w", err)
	}
	return out.Close()
}

// postLocationMessage request JSON: { "instanceId", "to", "latitude", "longitude", "name", "address" }
func postLocationMessage(c echo.Context) error {
	svc, err := service(c)
	if err != nil {
		return err
	}
	var payload struct {
		InstanceID string   `json:"instanceId"`
		To         string   `json:"to"`
		Latitude   *float64 `json:"latitude"`
		Longitude  *float64 `json:"longitude"`
		Name       string   `json:"name"`
		Address    string   `json:"address"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.InstanceID == "" || payload.To == "" || payload.Latitude == nil || payload.Longitude == nil {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "instanceId, to, latitude and longitude are required", nil)
	}
	res, err := svc.SendLocation(c.Request().Context(), payload.InstanceID, payload.To,
		*payload.Latitude, *payload.Longitude, payload.Name, payload.Address)
	if err != nil {
		return failErr(c, err)
	}
	return sent(c, payload.InstanceID, payload.To, res)
}

// postContactMessage request JSON: { "instanceId", "to", "contact": {"name", "phone", "email"} }
func postContactMessage(c echo.Context) error {
	svc, err := service(c)
	if err != nil {
		return err
	}
	var payload struct {
		InstanceID string               `json:"instanceId"`
		To         string               `json:"to"`
		Contact    whatsapp.ContactCard `json:"contact"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.InstanceID == "" || payload.To == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "instanceId and to are required", nil)
	}
	res, err := svc.SendContact(c.Request().Context(), payload.InstanceID, payload.To, payload.Contact)
	if err != nil {
		return failErr(c, err)
	}
	return sent(c, payload.InstanceID, payload.To, res)
}
