package adminapi

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/wagateway/internal/webserver"
	"github.com/talkincode/wagateway/internal/whatsapp"
)

func registerGroupRoutes() {
	webserver.ApiPOST("/group/create", createGroup, keyVerify, loginVerify)
	webserver.ApiPOST("/group/addparticipant", participantCall((*whatsapp.Session).AddParticipants), keyVerify, loginVerify)
	webserver.ApiPOST("/group/makeadmin", participantCall((*whatsapp.Session).MakeAdmin), keyVerify, loginVerify)
	webserver.ApiPOST("/group/demoteadmin", participantCall((*whatsapp.Session).DemoteAdmin), keyVerify, loginVerify)
	webserver.ApiGET("/group/getallgroups", getAllGroups, keyVerify, loginVerify)
	webserver.ApiPOST("/group/leave", leaveGroup, keyVerify, loginVerify)
	webserver.ApiGET("/group/getinvitecode", getInviteCode, keyVerify, loginVerify)
	webserver.ApiGET("/group/getgroupbyid", getGroupByID, keyVerify, loginVerify)
	webserver.ApiPOST("/group/participantsupdate", updateParticipants, keyVerify, loginVerify)
	webserver.ApiPOST("/group/settingsupdate", updateGroupSettings, keyVerify, loginVerify)
	webserver.ApiPOST("/group/updatesubject", updateGroupSubject, keyVerify, loginVerify)
	webserver.ApiPOST("/group/updatedescription", updateGroupDescription, keyVerify, loginVerify)
}

type groupPayload struct {
	ID          string   `json:"id" query:"id"`
	Name        string   `json:"name"`
	Users       []string `json:"users"`
	Action      string   `json:"action"`
	Subject     string   `json:"subject"`
	Description string   `json:"description"`
}

func bindGroup(c echo.Context) (*groupPayload, error) {
	p := new(groupPayload)
	err := c.Bind(p)
	return p, err
}

func createGroup(c echo.Context) error {
	p, err := bindGroup(c)
	if err != nil {
		return badRequest(c, err)
	}
	meta, err := session(c).CreateGroup(c.Request().Context(), p.Name, p.Users)
	if err != nil {
		return failErr(c, err)
	}
	return created(c, meta)
}

type participantFunc func(s *whatsapp.Session, ctx context.Context, id string, users []string) ([]whatsapp.ParticipantResult, *whatsapp.Result, error)

func participantCall(call participantFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := bindGroup(c)
		if err != nil {
			return badRequest(c, err)
		}
		results, res, err := call(session(c), c.Request().Context(), p.ID, p.Users)
		return participantsDone(c, results, res, err)
	}
}

func participantsDone(c echo.Context, results []whatsapp.ParticipantResult, res *whatsapp.Result, err error) error {
	if err != nil {
		return failErr(c, err)
	}
	if res != nil {
		return failResult(c, res)
	}
	return created(c, results)
}

func updateParticipants(c echo.Context) error {
	p, err := bindGroup(c)
	if err != nil {
		return badRequest(c, err)
	}
	results, res, err := session(c).UpdateParticipants(c.Request().Context(), p.ID, p.Users, p.Action)
	return participantsDone(c, results, res, err)
}

func getAllGroups(c echo.Context) error {
	groups, err := session(c).AllGroups(c.Request().Context())
	if err != nil {
		return failErr(c, err)
	}
	if groups == nil {
		groups = []whatsapp.GroupSummary{}
	}
	return created(c, groups)
}

func leaveGroup(c echo.Context) error {
	p, err := bindGroup(c)
	if err != nil {
		return badRequest(c, err)
	}
	if err := session(c).LeaveGroup(c.Request().Context(), p.ID); err != nil {
		return failErr(c, err)
	}
	return created(c, map[string]string{"id": p.ID})
}

func getInviteCode(c echo.Context) error {
	p, err := bindGroup(c)
	if err != nil {
		return badRequest(c, err)
	}
	code, err := session(c).InviteCode(c.Request().Context(), p.ID)
	if err != nil {
		return failErr(c, err)
	}
	return created(c, "https://chat.whatsapp.com/"+code)
}

func getGroupByID(c echo.Context) error {
	p, err := bindGroup(c)
	if err != nil {
		return badRequest(c, err)
	}
	chat, err := session(c).GroupByID(c.Request().Context(), p.ID)
	if err != nil {
		return failErr(c, err)
	}
	return created(c, chat)
}

// resultDone answers operations that only report a structured failure.
func resultDone(c echo.Context, res *whatsapp.Result, err error) error {
	if err != nil {
		return failErr(c, err)
	}
	if res != nil {
		return failResult(c, res)
	}
	return created(c, map[string]bool{"updated": true})
}

func updateGroupSettings(c echo.Context) error {
	p, err := bindGroup(c)
	if err != nil {
		return badRequest(c, err)
	}
	res, err := session(c).UpdateSettings(c.Request().Context(), p.ID, p.Action)
	return resultDone(c, res, err)
}

func updateGroupSubject(c echo.Context) error {
	p, err := bindGroup(c)
	if err != nil {
		return badRequest(c, err)
	}
	res, err := session(c).UpdateSubject(c.Request().Context(), p.ID, p.Subject)
	return resultDone(c, res, err)
}

func updateGroupDescription(c echo.Context) error {
	p, err := bindGroup(c)
	if err != nil {
		return badRequest(c, err)
	}
	res, err := session(c).UpdateDescription(c.Request().Context(), p.ID, p.Description)
	return resultDone(c, res, err)
}
