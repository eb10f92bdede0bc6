// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"github.com/Let-s-build-something/client-app/lib/ref"
	"github.com/Let-s-build-something/client-app/messaging"
)

const (
	// pbkdf2Iterations follows the secret-storage passphrase spec's
	// recommended minimum.
	pbkdf2Iterations = 210000
	secretKeyLength  = 32

	uiaAttemptCeiling = 3
)

// recoveryKeyPrefix identifies an exported secret-storage key.
var recoveryKeyPrefix = []byte{0x8B, 0x01}

// BootstrapOptions carries the credentials for Bootstrap.
type BootstrapOptions struct {
	// Passphrase is the user's chosen secret-storage passphrase, or an
	// exported recovery key ("EsT..." 48-character form). A recovery
	// key is detected by its decodable prefix; anything else is
	// treated as a passphrase.
	Passphrase string

	// AccountPassword authenticates the user-interactive auth stage
	// protecting the cross-signing upload. When empty, Passphrase is
	// used.
	AccountPassword string
}

// Bootstrap establishes the account's cross-signing trust root: it
// derives the secret-storage key from the passphrase or recovery key,
// generates and uploads master, self-signing, and user-signing keys,
// and then asks the account's other devices to verify this one so
// every device converges on the new root.
//
// The upload endpoint is gated by user-interactive authentication. A
// challenge is answered automatically, rebuilding the auth payload
// from the current session on every try, up to three attempts in
// total; the third failure is returned as-is.
func (m *Machine) Bootstrap(ctx context.Context, options BootstrapOptions) error {
	secretKey, err := deriveSecretStorageKey(options.Passphrase)
	if err != nil {
		return err
	}

	userID := m.session.UserID()
	request, err := buildCrossSigningKeys(userID, secretKey)
	if err != nil {
		return err
	}

	password := options.AccountPassword
	if password == "" {
		password = options.Passphrase
	}
	if err := m.uploadWithAuth(ctx, request, password); err != nil {
		return err
	}

	m.mu.Lock()
	m.setStateLocked(Loading{})
	m.mu.Unlock()

	if err := m.requestOtherDevices(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.setStateLocked(SelfVerification{Methods: []string{sasMethod}})
	m.mu.Unlock()
	return nil
}

// uploadWithAuth drives the upload through the UIA gate. The first
// call goes out unauthenticated; a challenge is then retried up to
// uiaAttemptCeiling times, each retry rebuilding the auth dict from
// the live session and the fresh challenge rather than replaying a
// stale one. After the last retry the challenge is returned as the
// final result.
func (m *Machine) uploadWithAuth(ctx context.Context, request messaging.CrossSigningUploadRequest, password string) error {
	var lastErr error
	for retries := 0; ; retries++ {
		err := m.session.UploadCrossSigningKeys(ctx, request)
		if err == nil {
			return nil
		}

		var challenge *messaging.UIAChallenge
		if !errors.As(err, &challenge) {
			return err
		}
		lastErr = err
		if retries == uiaAttemptCeiling {
			break
		}

		m.logger.Warn("cross-signing upload challenged",
			"retry", retries+1, "session", challenge.Session)
		request.Auth = map[string]any{
			"type": "m.login.password",
			"identifier": map[string]any{
				"type": "m.id.user",
				"user": m.session.UserID().String(),
			},
			"password": password,
			"session":  challenge.Session,
		}
	}
	return fmt.Errorf("verification: cross-signing upload failed after %d retries: %w", uiaAttemptCeiling, lastErr)
}

// requestOtherDevices sends a verification request to every other
// device of the account so the new trust root propagates.
func (m *Machine) requestOtherDevices(ctx context.Context) error {
	devices, err := m.session.Devices(ctx)
	if err != nil {
		return fmt.Errorf("verification: listing devices: %w", err)
	}

	targets := make(map[ref.DeviceID]json.RawMessage)
	transactionID := uuid.NewString()
	content, err := json.Marshal(map[string]any{
		"transaction_id": transactionID,
		"from_device":    m.session.DeviceID().String(),
		"methods":        []string{sasMethod},
		"timestamp":      nowMillis(),
	})
	if err != nil {
		return err
	}
	for _, device := range devices {
		if device.DeviceID == m.session.DeviceID() {
			continue
		}
		targets[device.DeviceID] = content
	}
	if len(targets) == 0 {
		return nil
	}

	m.mu.Lock()
	m.pendingTxnID = transactionID
	m.mu.Unlock()

	err = m.session.SendToDevice(ctx, typeRequest, map[ref.UserID]map[ref.DeviceID]json.RawMessage{
		m.session.UserID(): targets,
	})
	if err != nil {
		return fmt.Errorf("verification: requesting other devices: %w", err)
	}
	return nil
}

// deriveSecretStorageKey turns the user's credential into the 32-byte
// secret-storage key. Recovery keys decode directly; passphrases run
// through PBKDF2-SHA512.
func deriveSecretStorageKey(passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("verification: empty passphrase")
	}
	if key, err := decodeRecoveryKey(passphrase); err == nil {
		return key, nil
	}
	salt := []byte("m.secret_storage.v1.aes-hmac-sha2")
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, secretKeyLength, sha512.New), nil
}

// decodeRecoveryKey parses the base58 export format: a 2-byte prefix,
// the 32-byte key, and a parity byte XORing the whole string to zero.
func decodeRecoveryKey(encoded string) ([]byte, error) {
	raw, err := base58Decode(encoded)
	if err != nil {
		return nil, err
	}
	if len(raw) != len(recoveryKeyPrefix)+secretKeyLength+1 {
		return nil, fmt.Errorf("verification: recovery key has wrong length")
	}
	if raw[0] != recoveryKeyPrefix[0] || raw[1] != recoveryKeyPrefix[1] {
		return nil, fmt.Errorf("verification: recovery key prefix mismatch")
	}
	var parity byte
	for _, b := range raw {
		parity ^= b
	}
	if parity != 0 {
		return nil, fmt.Errorf("verification: recovery key parity check failed")
	}
	return raw[2 : 2+secretKeyLength], nil
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

func base58Decode(encoded string) ([]byte, error) {
	value := new(big.Int)
	radix := big.NewInt(58)
	for _, r := range encoded {
		if r == ' ' {
			continue
		}
		index := int64(-1)
		for i, a := range base58Alphabet {
			if a == r {
				index = int64(i)
				break
			}
		}
		if index < 0 {
			return nil, fmt.Errorf("verification: invalid base58 character %q", r)
		}
		value.Mul(value, radix)
		value.Add(value, big.NewInt(index))
	}
	return value.Bytes(), nil
}

// buildCrossSigningKeys generates the three signing keys. The master
// key is derived deterministically from the secret-storage key so the
// same credential always reproduces the same trust root; the
// subordinate keys are fresh and carry the master's signature.
func buildCrossSigningKeys(userID ref.UserID, secretKey []byte) (messaging.CrossSigningUploadRequest, error) {
	var request messaging.CrossSigningUploadRequest

	masterPrivate := ed25519.NewKeyFromSeed(secretKey)
	masterPublic := base64.RawStdEncoding.EncodeToString(masterPrivate.Public().(ed25519.PublicKey))

	selfKey, err := signedSubordinateKey(userID, masterPrivate, masterPublic, "self_signing")
	if err != nil {
		return request, err
	}
	userKey, err := signedSubordinateKey(userID, masterPrivate, masterPublic, "user_signing")
	if err != nil {
		return request, err
	}

	request.MasterKey = &messaging.CrossSigningKey{
		UserID: userID,
		Usage:  []string{"master"},
		Keys:   map[string]string{"ed25519:" + masterPublic: masterPublic},
	}
	request.SelfSigningKey = selfKey
	request.UserSigningKey = userKey
	return request, nil
}

// signedSubordinateKey generates one subordinate cross-signing key and
// signs its canonical form with the master key.
func signedSubordinateKey(userID ref.UserID, masterPrivate ed25519.PrivateKey, masterPublic, usage string) (*messaging.CrossSigningKey, error) {
	public, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("verification: generating %s key: %w", usage, err)
	}

	publicEncoded := base64.RawStdEncoding.EncodeToString(public)
	key := &messaging.CrossSigningKey{
		UserID: userID,
		Usage:  []string{usage},
		Keys:   map[string]string{"ed25519:" + publicEncoded: publicEncoded},
	}

	// The signature covers the canonical JSON of the key without its
	// signatures block.
	unsigned, err := json.Marshal(map[string]any{
		"user_id": userID.String(),
		"usage":   []string{usage},
		"keys":    key.Keys,
	})
	if err != nil {
		return nil, fmt.Errorf("verification: encoding %s key: %w", usage, err)
	}
	canonical, err := canonicalJSON(unsigned)
	if err != nil {
		return nil, err
	}
	signature := ed25519.Sign(masterPrivate, canonical)
	key.Signatures = map[ref.UserID]map[string]string{
		userID: {
			"ed25519:" + masterPublic: base64.RawStdEncoding.EncodeToString(signature),
		},
	}
	return key, nil
}
