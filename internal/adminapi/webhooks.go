package adminapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"

	"github.com/talkincode/wamux/internal/webserver"
)

func registerWebhookRoutes() {
	webserver.ApiPOST("/webhooks", postWebhook)
	webserver.ApiPOST("/webhooks/test", postWebhookTest)
	webserver.ApiGET("/webhooks/:instanceId", getWebhook)
	webserver.ApiDELETE("/webhooks/:instanceId", deleteWebhook)
	webserver.ApiGET("/webhooks/:instanceId/deliveries", listWebhookDeliveries)
}

// postWebhook request JSON: { "instanceId", "url", "events": ["message"], "secret" }
func postWebhook(c echo.Context) error {
	svc, err := service(c)
	if err != nil {
		return err
	}
	var payload struct {
		InstanceID string   `json:"instanceId"`
		URL        string   `json:"url"`
		Events     []string `json:"events"`
		Secret     string   `json:"secret"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.InstanceID == "" || payload.URL == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "instanceId and url are required", nil)
	}
	sub, err := svc.ConfigureWebhook(c.Request().Context(), payload.InstanceID, payload.URL, payload.Events, payload.Secret)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, map[string]interface{}{"webhook": sub})
}

func getWebhook(c echo.Context) error {
	svc, err := service(c)
	if err != nil {
		return err
	}
	sub, err := svc.Webhook(c.Param("instanceId"))
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, map[string]interface{}{"webhook": sub})
}

func deleteWebhook(c echo.Context) error {
	svc, err := service(c)
	if err != nil {
		return err
	}
	if err := svc.RemoveWebhook(c.Request().Context(), c.Param("instanceId")); err != nil {
		return failErr(c, err)
	}
	return ok(c, map[string]interface{}{"removed": true})
}

// postWebhookTest request JSON: { "url": "https://...", "data": {...} }
func postWebhookTest(c echo.Context) error {
	svc, err := service(c)
	if err != nil {
		return err
	}
	var payload struct {
		URL  string      `json:"url"`
		Data interface{} `json:"data"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.URL == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "url is required", nil)
	}
	res, err := svc.TestWebhook(c.Request().Context(), payload.URL, payload.Data)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, res)
}

// listWebhookDeliveries query: since (duration or date), limit
func listWebhookDeliveries(c echo.Context) error {
	svc, err := service(c)
	if err != nil {
		return err
	}
	id := c.Param("instanceId")
	if _, err := svc.Get(id); err != nil {
		return failErr(c, err)
	}
	since, err := parseSince(c.QueryParam("since"))
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_SINCE", "since must be a duration or a date", err.Error())
	}
	deliveries := webserver.AppContext(c).Deliveries()
	if deliveries == nil {
		return fail(c, http.StatusServiceUnavailable, "DB_NOT_INITIALIZED", "Delivery log not available", nil)
	}
	items, err := deliveries.List(c.Request().Context(), id, since, cast.ToInt(c.QueryParam("limit")))
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query deliveries", err.Error())
	}
	return ok(c, map[string]interface{}{
		"deliveries": items,
		"total":      len(items),
	})
}
