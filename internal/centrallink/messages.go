// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package centrallink

import (
	"encoding/json"
	"time"
)

// Frame is the wire envelope exchanged with central: UTF-8 JSON, message
// boundaries provided by the websocket transport.
type Frame struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	MessageID string          `json:"messageId,omitempty"`
}

// Inbound message types.
const (
	MsgConnected              = "connected"
	MsgAuthenticated          = "authenticated"
	MsgAuthError              = "auth_error"
	MsgHeartbeatAck           = "heartbeat_ack"
	MsgIPUpdateAck            = "ip_update_ack"
	MsgIPUpdateError          = "ip_update_error"
	MsgConnectionTestResponse = "connection_test_response"
	MsgSyncRequest            = "sync_request"
	MsgSyncResponse           = "sync_response"
	MsgBookingUpdate          = "booking_update"
	MsgVehicleUpdate          = "vehicle_update"
	MsgQueueUpdate            = "queue_update"
	MsgDataUpdate             = "data_update"
	MsgStationStatusUpdate    = "station_status_update"
	MsgStaffLoginResponse     = "staff_login_response"
	MsgStaffVerifyResponse    = "staff_verify_response"
	MsgVehicleSyncFull        = "vehicle_sync_full"
	MsgVehicleSyncUpdate      = "vehicle_sync_update"
	MsgVehicleSyncDelete      = "vehicle_sync_delete"
	MsgVehicleSyncError       = "vehicle_sync_error"
	MsgError                  = "error"
)

// Outbound message types.
const (
	MsgAuthenticate      = "authenticate"
	MsgHeartbeat         = "heartbeat"
	MsgIPUpdate          = "ip_update"
	MsgConnectionTest    = "connection_test"
	MsgVehicleSyncAck    = "vehicle_sync_ack"
	MsgStaffLoginRequest = "staff_login_request"
	MsgStaffVerifyReq    = "staff_verify_request"
	MsgTripSync          = "trip_sync"
)

// AuthenticatePayload opens a session for this station.
type AuthenticatePayload struct {
	StationID string    `json:"stationId"`
	Timestamp time.Time `json:"timestamp"`
	PublicIP  string    `json:"publicIp,omitempty"`
}

// HeartbeatPayload keeps the session alive.
type HeartbeatPayload struct {
	StationID string    `json:"stationId"`
	Timestamp time.Time `json:"timestamp"`
}

// IPUpdatePayload reports a changed public address.
type IPUpdatePayload struct {
	StationID string `json:"stationId"`
	PublicIP  string `json:"publicIp"`
}

// VehicleSyncAckPayload acknowledges an inbound vehicle sync.
type VehicleSyncAckPayload struct {
	MessageID string   `json:"messageId,omitempty"`
	SyncType  string   `json:"syncType"`
	Success   bool     `json:"success"`
	Errors    []string `json:"errors,omitempty"`
	StationID string   `json:"stationId"`
}

// StaffLoginRequestPayload asks central to authenticate a staff member the
// local store does not know.
type StaffLoginRequestPayload struct {
	CIN      string `json:"cin"`
	Password string `json:"password"`
}

// StaffLoginResponsePayload carries central's login verdict.
type StaffLoginResponsePayload struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Token   string          `json:"token,omitempty"`
	Staff   json.RawMessage `json:"staff,omitempty"`
}

// ErrorPayload carries a central-side error report.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewFrame builds a frame with the payload marshaled in.
func NewFrame(msgType string, payload any) (Frame, error) {
	f := Frame{Type: msgType, Timestamp: time.Now()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, err
		}
		f.Payload = data
	}
	return f, nil
}
