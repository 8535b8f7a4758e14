package adminapi

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/talkincode/wamux/config"
	"github.com/talkincode/wamux/internal/app"
	"github.com/talkincode/wamux/internal/transport"
	"github.com/talkincode/wamux/internal/webhook"
	"github.com/talkincode/wamux/internal/webserver"
	"github.com/talkincode/wamux/internal/whatsapp"
	"github.com/talkincode/wamux/pkg/metrics"
)

type testEnv struct {
	fake *transport.Fake
	svc  *whatsapp.Service
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.DefaultAppConfig()
	cfg.System.Workdir = t.TempDir()

	db, err := gorm.Open(sqlite.Open(path.Join(cfg.System.Workdir, "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	a := app.NewApplication(cfg)
	require.NoError(t, a.OverrideDB(db))
	require.NoError(t, a.MigrateDB(false))

	disp, err := webhook.NewDispatcher(webhook.Options{Timeout: time.Second})
	require.NoError(t, err)
	fake := transport.NewFake()
	svc, err := whatsapp.NewService(whatsapp.Options{Factory: fake, Dispatcher: disp})
	require.NoError(t, err)
	whatsapp.SetGlobalService(svc)
	require.NoError(t, metrics.InitMetrics(""))

	t.Cleanup(func() {
		whatsapp.SetGlobalService(nil)
		_ = svc.Shutdown(context.Background())
		_ = disp.Close(context.Background())
		_ = metrics.Close()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	webserver.Init(a)
	Init()
	return &testEnv{fake: fake, svc: svc}
}

func do(t *testing.T, method, target string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := jsoniter.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	return serve(t, req)
}

func serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	webserver.Echo().ServeHTTP(rec, req)
	var out map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, jsoniter.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func data(resp map[string]interface{}) map[string]interface{} {
	d, _ := resp["data"].(map[string]interface{})
	return d
}

func (e *testEnv) createInstance(t *testing.T) string {
	t.Helper()
	rec, resp := do(t, http.MethodPost, "/api/v1/instances", map[string]string{"name": "sales"})
	require.Equal(t, http.StatusCreated, rec.Code)
	return data(resp)["instance"].(map[string]interface{})["id"].(string)
}

func (e *testEnv) openInstance(t *testing.T, id string) {
	t.Helper()
	rec, _ := do(t, http.MethodPost, "/api/v1/instances/"+id+"/connect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	e.fake.Latest(id).Emit(transport.Opened{Identity: transport.Identity{ID: "15550001111:1@s.whatsapp.net"}})
	require.Eventually(t, func() bool {
		st, err := e.svc.Status(id)
		return err == nil && st.Status == "connected"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestInstanceLifecycle(t *testing.T) {
	env := setup(t)

	rec, resp := do(t, http.MethodPost, "/api/v1/instances", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_ARGUMENT", resp["code"])

	id := env.createInstance(t)

	rec, resp = do(t, http.MethodGet, "/api/v1/instances", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, data(resp)["total"])

	rec, resp = do(t, http.MethodGet, "/api/v1/instances/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "disconnected", data(resp)["status"])

	rec, resp = do(t, http.MethodGet, "/api/v1/instances/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "NOT_FOUND", resp["code"])

	env.openInstance(t, id)
	rec, resp = do(t, http.MethodPost, "/api/v1/instances/"+id+"/connect", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_CONNECTED", resp["code"])

	rec, resp = do(t, http.MethodPost, "/api/v1/instances/"+id+"/disconnect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "disconnected", data(resp)["instance"].(map[string]interface{})["status"])

	rec, _ = do(t, http.MethodDelete, "/api/v1/instances/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, http.MethodDelete, "/api/v1/instances/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQRCodeEndpoints(t *testing.T) {
	env := setup(t)
	id := env.createInstance(t)

	rec, resp := do(t, http.MethodGet, "/api/v1/instances/"+id+"/qrcode", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "QR_NOT_AVAILABLE", resp["code"])

	rec, _ = do(t, http.MethodPost, "/api/v1/instances/"+id+"/connect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	env.fake.Latest(id).Emit(transport.QR{Code: "1@2,3=="})
	require.Eventually(t, func() bool {
		_, found, _ := env.svc.QRCode(id)
		return found
	}, 2*time.Second, 5*time.Millisecond)

	rec, resp = do(t, http.MethodGet, "/api/v1/instances/"+id+"/qrcode", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(data(resp)["qrCode"].(string), "data:image/png;base64,"))
	assert.Equal(t, "qr_code", data(resp)["status"])

	rec, _ = do(t, http.MethodGet, "/api/v1/instances/"+id+"/qrcode/image", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestPairingCode(t *testing.T) {
	env := setup(t)
	id := env.createInstance(t)

	rec, resp := do(t, http.MethodPost, "/api/v1/instances/"+id+"/pairing-code", map[string]string{"phone": "5511999999999"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOT_CONNECTED", resp["code"])

	rec, _ = do(t, http.MethodPost, "/api/v1/instances/"+id+"/connect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, resp = do(t, http.MethodPost, "/api/v1/instances/"+id+"/pairing-code", map[string]string{"phone": "5511999999999"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ABCD-1234", data(resp)["pairingCode"])
}

func TestSendMessages(t *testing.T) {
	env := setup(t)
	id := env.createInstance(t)

	text := map[string]string{"instanceId": id, "to": "5511888887777", "message": "hello"}
	rec, resp := do(t, http.MethodPost, "/api/v1/messages/text", text)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOT_CONNECTED", resp["code"])

	env.openInstance(t, id)
	rec, resp = do(t, http.MethodPost, "/api/v1/messages/text", text)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id+"-1", data(resp)["messageId"])

	rec, _ = do(t, http.MethodPost, "/api/v1/messages/text", map[string]string{"instanceId": id})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, http.MethodPost, "/api/v1/messages/location", map[string]interface{}{
		"instanceId": id, "to": "5511888887777", "latitude": -23.55, "longitude": -46.63, "name": "SP",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, http.MethodPost, "/api/v1/messages/contact", map[string]interface{}{
		"instanceId": id, "to": "5511888887777",
		"contact": map[string]string{"name": "Ann", "phone": "+1555"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("instanceId", id))
	require.NoError(t, mw.WriteField("to", "5511888887777"))
	require.NoError(t, mw.WriteField("caption", "look"))
	fw, err := mw.CreateFormFile("file", "cat.png")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("\x89PNG fake"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages/media", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec, _ = serve(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	sent := env.fake.Latest(id).Sent()
	require.Len(t, sent, 4)
	assert.Equal(t, "5511888887777@s.whatsapp.net", sent[0].To)
	assert.Equal(t, transport.KindLocation, sent[1].Msg.Kind)
	assert.Equal(t, transport.KindContact, sent[2].Msg.Kind)
	assert.Equal(t, transport.KindImage, sent[3].Msg.Kind)
	assert.Equal(t, "cat.png", sent[3].Msg.FileName)
	assert.Equal(t, "look", sent[3].Msg.Caption)
}

func TestWebhookEndpoints(t *testing.T) {
	env := setup(t)
	id := env.createInstance(t)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"received":true}`))
	}))
	defer receiver.Close()

	rec, resp := do(t, http.MethodPost, "/api/v1/webhooks", map[string]interface{}{
		"instanceId": id, "url": receiver.URL, "events": []string{"message", "bogus"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, resp["message"], "bogus")

	rec, resp = do(t, http.MethodPost, "/api/v1/webhooks", map[string]interface{}{
		"instanceId": id, "url": receiver.URL, "events": []string{"message"}, "secret": "s3cret",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	wh := data(resp)["webhook"].(map[string]interface{})
	assert.Equal(t, receiver.URL, wh["url"])
	assert.NotContains(t, wh, "secret")

	rec, _ = do(t, http.MethodGet, "/api/v1/webhooks/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp = do(t, http.MethodPost, "/api/v1/webhooks/test", map[string]interface{}{"url": receiver.URL})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, data(resp)["success"])

	rec, resp = do(t, http.MethodGet, "/api/v1/webhooks/"+id+"/deliveries?since=1h", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, data(resp)["total"])

	rec, _ = do(t, http.MethodGet, "/api/v1/webhooks/"+id+"/deliveries?since=notadate", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, http.MethodDelete, "/api/v1/webhooks/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, http.MethodDelete, "/api/v1/webhooks/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsAndHealth(t *testing.T) {
	setup(t)
	require.NoError(t, metrics.Default().Insert(metrics.MetricDeliveryLatency, "abc", 12))
	require.NoError(t, metrics.Default().Insert(metrics.MetricDeliveryLatency, "abc", 30))

	rec, resp := do(t, http.MethodGet, "/api/v1/metrics/"+metrics.MetricDeliveryLatency+"?instance=abc&since=10m", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := data(resp)["summary"].(map[string]interface{})
	assert.EqualValues(t, 2, summary["count"])
	assert.EqualValues(t, 30, summary["max"])

	rec, _ = do(t, http.MethodGet, "/api/v1/metrics/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, resp = do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", resp["status"])
	assert.Equal(t, "ok", resp["database"])
}

func TestParseSince(t *testing.T) {
	got, err := parseSince("30m")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(-30*time.Minute), got, time.Second)

	got, err = parseSince("2024-03-01 10:00:00")
	require.NoError(t, err)
	assert.Equal(t, 2024, got.Year())

	got, err = parseSince("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}
