// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/Let-s-build-something/client-app/lib/ref"
)

// DeviceKeys is a device's identity keys as published to the
// homeserver. Keys map from "<algorithm>:<device_id>" to base64 key
// material. Signatures map user ID to "<algorithm>:<key_id>" to
// signature.
type DeviceKeys struct {
	UserID     ref.UserID                       `json:"user_id"`
	DeviceID   ref.DeviceID                     `json:"device_id"`
	Algorithms []string                         `json:"algorithms"`
	Keys       map[string]string                `json:"keys"`
	Signatures map[ref.UserID]map[string]string `json:"signatures,omitempty"`
	Unsigned   *DeviceKeysUnsigned              `json:"unsigned,omitempty"`
}

// DeviceKeysUnsigned carries optional display metadata for a device.
type DeviceKeysUnsigned struct {
	DeviceDisplayName string `json:"device_display_name,omitempty"`
}

// CrossSigningKey is one of the three cross-signing keys (master,
// self-signing, user-signing). Usage declares which role the key
// plays.
type CrossSigningKey struct {
	UserID     ref.UserID                       `json:"user_id"`
	Usage      []string                         `json:"usage"`
	Keys       map[string]string                `json:"keys"`
	Signatures map[ref.UserID]map[string]string `json:"signatures,omitempty"`
}

// QueryKeysRequest is the body for POST /keys/query. DeviceKeys maps
// each user to the device IDs of interest; an empty list means all of
// the user's devices.
type QueryKeysRequest struct {
	DeviceKeys map[ref.UserID][]ref.DeviceID `json:"device_keys"`
	Timeout    int                           `json:"timeout,omitempty"`
}

// QueryKeysResponse is returned by QueryKeys.
type QueryKeysResponse struct {
	DeviceKeys      map[ref.UserID]map[ref.DeviceID]DeviceKeys `json:"device_keys,omitempty"`
	MasterKeys      map[ref.UserID]CrossSigningKey             `json:"master_keys,omitempty"`
	SelfSigningKeys map[ref.UserID]CrossSigningKey             `json:"self_signing_keys,omitempty"`
	UserSigningKeys map[ref.UserID]CrossSigningKey             `json:"user_signing_keys,omitempty"`
	Failures        map[string]json.RawMessage                 `json:"failures,omitempty"`
}

// CrossSigningUploadRequest is the body for
// POST /keys/device_signing/upload. Auth is nil on the first attempt;
// the server responds with a UIA challenge, and the caller retries
// with the completed auth dict.
type CrossSigningUploadRequest struct {
	MasterKey      *CrossSigningKey `json:"master_key,omitempty"`
	SelfSigningKey *CrossSigningKey `json:"self_signing_key,omitempty"`
	UserSigningKey *CrossSigningKey `json:"user_signing_key,omitempty"`
	Auth           map[string]any   `json:"auth,omitempty"`
}

// UIAChallenge is a User-Interactive Authentication challenge: the 401
// response body from an endpoint that requires an auth stage. It is
// returned as an error from UploadCrossSigningKeys; the caller
// completes one of the flows and retries with the session ID.
type UIAChallenge struct {
	Session   string                     `json:"session"`
	Flows     []UIAFlow                  `json:"flows"`
	Params    map[string]json.RawMessage `json:"params,omitempty"`
	Completed []string                   `json:"completed,omitempty"`

	// Underlying is the Matrix error carried by the 401 response, if
	// any.
	Underlying *MatrixError `json:"-"`
}

// UIAFlow is one acceptable sequence of auth stages.
type UIAFlow struct {
	Stages []string `json:"stages"`
}

func (c *UIAChallenge) Error() string {
	return fmt.Sprintf("matrix: user-interactive auth required (session %s, %d flows)", c.Session, len(c.Flows))
}

// SignatureUploadResponse is returned by UploadSignatures. Failures
// map user ID to key ID to a Matrix error describing why that
// signature was rejected.
type SignatureUploadResponse struct {
	Failures map[ref.UserID]map[string]MatrixError `json:"failures,omitempty"`
}

// QueryKeys fetches device and cross-signing keys for the given users.
func (s *Session) QueryKeys(ctx context.Context, request QueryKeysRequest) (*QueryKeysResponse, error) {
	body, err := s.client.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/keys/query", s.accessToken, request)
	if err != nil {
		return nil, fmt.Errorf("messaging: keys query failed: %w", err)
	}

	var response QueryKeysResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse keys query response: %w", err)
	}
	return &response, nil
}

// UploadCrossSigningKeys uploads the master, self-signing, and
// user-signing keys. The endpoint is protected by User-Interactive
// Authentication: when the server demands an auth stage, the error is
// a *UIAChallenge carrying the session ID and accepted flows. Complete
// a flow, set request.Auth, and call again.
func (s *Session) UploadCrossSigningKeys(ctx context.Context, request CrossSigningUploadRequest) error {
	body, err := s.client.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/keys/device_signing/upload", s.accessToken, request)
	if err == nil {
		return nil
	}

	var matrixErr *MatrixError
	if !asMatrixError(err, &matrixErr) || matrixErr.StatusCode != http.StatusUnauthorized {
		return fmt.Errorf("messaging: cross-signing upload failed: %w", err)
	}

	// 401 from this endpoint is the UIA challenge, carried in the
	// response body alongside the error.
	var challenge UIAChallenge
	if jsonErr := json.Unmarshal(body, &challenge); jsonErr != nil || challenge.Session == "" {
		return fmt.Errorf("messaging: cross-signing upload failed: %w", err)
	}
	challenge.Underlying = matrixErr
	return &challenge
}

// UploadSignatures uploads signatures of device or cross-signing keys.
// The payload maps user ID to key/device ID to the signed key object.
// Per-key failures are reported in the response, not as an error.
func (s *Session) UploadSignatures(ctx context.Context, payload map[ref.UserID]map[string]json.RawMessage) (*SignatureUploadResponse, error) {
	body, err := s.client.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/keys/signatures/upload", s.accessToken, payload)
	if err != nil {
		return nil, fmt.Errorf("messaging: signatures upload failed: %w", err)
	}

	var response SignatureUploadResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse signatures upload response: %w", err)
	}
	return &response, nil
}

// SendToDevice sends direct-to-device events. messages maps each
// target user to device IDs (or "*" for all of the user's devices) to
// the event content. Uses an idempotent PUT with a fresh transaction
// ID.
func (s *Session) SendToDevice(ctx context.Context, eventType ref.EventType, messages map[ref.UserID]map[ref.DeviceID]json.RawMessage) error {
	path := fmt.Sprintf("/_matrix/client/v3/sendToDevice/%s/%s",
		url.PathEscape(eventType.String()),
		url.PathEscape(uuid.NewString()),
	)

	requestBody := map[string]any{"messages": messages}
	_, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, requestBody)
	if err != nil {
		return fmt.Errorf("messaging: send to-device %s failed: %w", eventType, err)
	}
	return nil
}

// DevicesResponse is returned by Devices.
type DevicesResponse struct {
	Devices []DeviceInfo `json:"devices"`
}

// DeviceInfo describes one of the user's registered devices.
type DeviceInfo struct {
	DeviceID    ref.DeviceID `json:"device_id"`
	DisplayName string       `json:"display_name,omitempty"`
	LastSeenTS  int64        `json:"last_seen_ts,omitempty"`
}

// Devices lists the user's registered devices. The verification flow
// uses this to find the other devices to send verification requests
// to.
func (s *Session) Devices(ctx context.Context) ([]DeviceInfo, error) {
	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/devices", s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: list devices failed: %w", err)
	}

	var response DevicesResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse devices response: %w", err)
	}
	return response.Devices, nil
}

// asMatrixError extracts a *MatrixError without wrapping semantics
// getting in the way; doRequest returns the error unwrapped.
func asMatrixError(err error, target **MatrixError) bool {
	matrixErr, ok := err.(*MatrixError) //nolint:errorlint // direct type assertion, no wrapping
	if !ok {
		return false
	}
	*target = matrixErr
	return true
}
