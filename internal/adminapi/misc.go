package adminapi

import (
	"github.com/labstack/echo/v4"
	"github.com/talkincode/wagateway/internal/webserver"
)

func registerMiscRoutes() {
	webserver.ApiGET("/misc/onwhatsapp", onWhatsApp, keyVerify, loginVerify)
	webserver.ApiGET("/misc/downProfile", downloadProfile, keyVerify, loginVerify)
	webserver.ApiGET("/misc/getStatus", getUserStatus, keyVerify, loginVerify)
	webserver.ApiGET("/misc/blockUser", blockUser, keyVerify, loginVerify)
	webserver.ApiPOST("/misc/updateProfilePicture", updateProfilePicture, keyVerify, loginVerify)
}

func onWhatsApp(c echo.Context) error {
	exists, err := session(c).OnWhatsApp(c.Request().Context(), c.QueryParam("id"))
	if err != nil {
		return failErr(c, err)
	}
	return created(c, exists)
}

func downloadProfile(c echo.Context) error {
	url, err := session(c).ProfilePictureURL(c.Request().Context(), c.QueryParam("id"))
	if err != nil {
		return failErr(c, err)
	}
	return created(c, url)
}

func getUserStatus(c echo.Context) error {
	status, err := session(c).FetchStatus(c.Request().Context(), c.QueryParam("id"))
	if err != nil {
		return failErr(c, err)
	}
	return created(c, map[string]string{"status": status})
}

// blockUser takes ?id= and ?block_status=block|unblock.
func blockUser(c echo.Context) error {
	action := c.QueryParam("block_status")
	if err := session(c).BlockUser(c.Request().Context(), c.QueryParam("id"), action); err != nil {
		return failErr(c, err)
	}
	if action == "block" {
		return created(c, "Contact Blocked")
	}
	return created(c, "Contact Unblocked")
}

func updateProfilePicture(c echo.Context) error {
	var p struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := c.Bind(&p); err != nil {
		return badRequest(c, err)
	}
	res, err := session(c).UpdateProfilePicture(c.Request().Context(), p.ID, p.URL)
	if err != nil {
		return failErr(c, err)
	}
	if res != nil {
		return failResult(c, res)
	}
	return created(c, map[string]string{"message": "profile picture updated"})
}
