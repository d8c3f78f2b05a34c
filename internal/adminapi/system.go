package adminapi

import (
	"github.com/labstack/echo/v4"
	"github.com/talkincode/wagateway/internal/app"
	"github.com/talkincode/wagateway/internal/webserver"
)

func registerSystemRoutes() {
	webserver.ApiGET("/system/status", getSystemStatus)
}

type systemStatus struct {
	Sessions map[string]int   `json:"sessions"`
	Total    int              `json:"total"`
	Process  app.ProcessStats `json:"process"`
}

func getSystemStatus(c echo.Context) error {
	stats := sessions.Stats()
	total := 0
	for _, n := range stats {
		total += n
	}
	return ok(c, systemStatus{
		Sessions: stats,
		Total:    total,
		Process:  app.CollectProcessStats(),
	})
}
