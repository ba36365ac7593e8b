package authapi

import "time"

type loginRequest struct {
	LoginOrEmail string `json:"loginOrEmail"`
	Password     string `json:"password"`
}

type recoveryRequest struct {
	Email string `json:"email"`
}

type recoveryConfirmRequest struct {
	NewPassword  string `json:"newPassword"`
	RecoveryCode string `json:"recoveryCode"`
}

type accessTokenResponse struct {
	AccessToken string `json:"accessToken"`
}

type meResponse struct {
	Email  string `json:"email"`
	Login  string `json:"login"`
	UserID string `json:"userId"`
}

type deviceResponse struct {
	IP             string    `json:"ip"`
	Title          string    `json:"title"`
	LastActiveDate time.Time `json:"lastActiveDate"`
	DeviceID       string    `json:"deviceId"`
}
