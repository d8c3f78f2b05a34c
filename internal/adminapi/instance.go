package adminapi

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"
	"github.com/talkincode/wagateway/internal/webserver"
	"github.com/talkincode/wagateway/internal/whatsapp"
	"go.uber.org/zap"
)

func registerInstanceRoutes() {
	webserver.ApiPOST("/instance/init", initInstance)
	webserver.ApiGET("/instance/qr", getInstanceQR, keyVerify)
	webserver.ApiGET("/instance/qrbase64", getInstanceQRBase64, keyVerify)
	webserver.ApiGET("/instance/info", getInstanceInfo, keyVerify)
	webserver.ApiGET("/instance/restore", restoreInstances)
	webserver.ApiPOST("/instance/restart", restartInstance, keyVerify)
	webserver.ApiDELETE("/instance/logout", logoutInstance, keyVerify)
	webserver.ApiDELETE("/instance/delete", deleteInstance, keyVerify)
	webserver.ApiGET("/instance/list", listInstances)
}

type initResponse struct {
	Error   bool                   `json:"error"`
	Message string                 `json:"message"`
	Key     string                 `json:"key"`
	Webhook map[string]interface{} `json:"webhook"`
	QRCode  map[string]string      `json:"qrcode"`
}

// initInstance starts a session. The response is immediate; the pairing
// code shows up on /instance/qr once the protocol hands it out.
func initInstance(c echo.Context) error {
	key := c.QueryParam("key")
	allow := cast.ToBool(c.QueryParam("webhook"))
	webhookURL := strings.TrimSpace(c.QueryParam("webhookUrl"))
	sess, err := sessions.Create(c.Request().Context(), key, webhookURL, allow)
	if err != nil {
		return failErr(c, err)
	}
	zap.L().Info("adminapi: instance initialized", zap.String("key", sess.Key()), zap.Bool("webhook", allow))
	return c.JSON(http.StatusOK, initResponse{
		Message: "Initializing successfully",
		Key:     sess.Key(),
		Webhook: map[string]interface{}{
			"enabled":    allow,
			"webhookUrl": webhookURL,
		},
		QRCode: map[string]string{
			"url": strings.TrimRight(appConfig.Web.AppURL, "/") + "/instance/qr?key=" + sess.Key(),
		},
	})
}

var qrPage = template.Must(template.New("qr").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Key}}</title><meta http-equiv="refresh" content="10"></head>
<body>
{{if .Image}}<img src="{{.Image}}" alt="scan with WhatsApp">{{else}}<p>{{.Message}}</p>{{end}}
</body>
</html>
`))

func getInstanceQR(c echo.Context) error {
	sess := session(c)
	data := struct {
		Key     string
		Image   template.URL
		Message string
	}{Key: sess.Key()}
	switch qr := sess.QR(); {
	case sess.Online():
		data.Message = "instance is already connected"
	case strings.HasPrefix(qr, "data:image/"):
		data.Image = template.URL(qr)
	case qr == whatsapp.QRExpired:
		data.Message = "QR code expired, restart the instance"
	default:
		data.Message = "waiting for QR code"
	}
	var b strings.Builder
	if err := qrPage.Execute(&b, data); err != nil {
		return failErr(c, err)
	}
	return c.HTML(http.StatusOK, b.String())
}

func getInstanceQRBase64(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"error":   false,
		"message": "QR Base64 fetched successfully",
		"qrcode":  session(c).QR(),
	})
}

func getInstanceInfo(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"error":         false,
		"message":       "Instance fetched successfully",
		"instance_data": session(c).Info(),
	})
}

func restoreInstances(c echo.Context) error {
	keys, err := sessions.Restore(c.Request().Context())
	if err != nil {
		return failErr(c, err)
	}
	if keys == nil {
		keys = []string{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"error":   false,
		"message": "All instances restored",
		"data":    keys,
	})
}

func restartInstance(c echo.Context) error {
	if err := session(c).Restart(); err != nil {
		return failErr(c, err)
	}
	return done(c, "Instance restarted")
}

func logoutInstance(c echo.Context) error {
	if err := sessions.Logout(c.Request().Context(), session(c).Key()); err != nil {
		zap.L().Warn("adminapi: logout failed", zap.String("key", session(c).Key()), zap.Error(err))
		return fail(c, http.StatusInternalServerError, "LOGOUT_FAILED", "error while logging out", err.Error())
	}
	return done(c, "logout successfull")
}

func deleteInstance(c echo.Context) error {
	if err := sessions.Delete(c.Request().Context(), session(c).Key()); err != nil {
		return failErr(c, err)
	}
	return done(c, "Instance deleted successfully")
}

// listInstances returns every instance detail, or with ?active=true the keys
// of connected instances only.
func listInstances(c echo.Context) error {
	all := sessions.All()
	if cast.ToBool(c.QueryParam("active")) {
		keys := make([]string, 0, len(all))
		for _, sess := range all {
			if sess.Online() {
				keys = append(keys, sess.Key())
			}
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"error":   false,
			"message": "All active instance",
			"data":    keys,
		})
	}
	infos := make([]whatsapp.InstanceInfo, 0, len(all))
	for _, sess := range all {
		infos = append(infos, sess.Info())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"error":   false,
		"message": "All instance listed",
		"data":    infos,
	})
}
