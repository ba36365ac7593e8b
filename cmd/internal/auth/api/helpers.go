package authapi

import (
	"blogapi/cmd/internal/auth/device"
	"blogapi/cmd/internal/auth/recovery"
	"blogapi/cmd/internal/auth/session"
)

func toMeResponse(p session.Profile) meResponse {
	return meResponse{Email: p.Email, Login: p.Login, UserID: p.UserID}
}

func toDeviceResponses(list []device.Session) []deviceResponse {
	out := make([]deviceResponse, 0, len(list))
	for _, s := range list {
		out = append(out, deviceResponse{
			IP:             s.IP,
			Title:          s.Title,
			LastActiveDate: s.LastActiveAt,
			DeviceID:       s.DeviceID,
		})
	}
	return out
}

func toFieldErrors(errs []recovery.FieldError) []fieldError {
	out := make([]fieldError, 0, len(errs))
	for _, e := range errs {
		out = append(out, fieldError{Message: e.Message, Field: e.Field})
	}
	return out
}
