// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Let-s-build-something/client-app/lib/ref"
	"github.com/Let-s-build-something/client-app/messaging"
)

var (
	typeRequest = ref.MustParseEventType("m.key.verification.request")
	typeReady   = ref.MustParseEventType("m.key.verification.ready")
	typeStart   = ref.MustParseEventType("m.key.verification.start")
	typeAccept  = ref.MustParseEventType("m.key.verification.accept")
	typeKey     = ref.MustParseEventType("m.key.verification.key")
	typeMAC     = ref.MustParseEventType("m.key.verification.mac")
	typeDone    = ref.MustParseEventType("m.key.verification.done")
	typeCancel  = ref.MustParseEventType("m.key.verification.cancel")
)

// Cancel codes defined by the verification protocol.
const (
	cancelUser          = "m.user"
	cancelMismatchedSAS = "m.mismatched_sas"
	cancelUnexpected    = "m.unexpected_message"
	cancelUnknownMethod = "m.unknown_method"
)

// Config holds the parameters for NewMachine.
type Config struct {
	// Session is the authenticated homeserver session. Required.
	Session *messaging.Session

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger

	// DeviceKey is this device's ed25519 signing key in unpadded
	// base64, authenticated during the MAC exchange. When empty, the
	// device ID itself is authenticated, which a strict counterpart
	// will reject.
	DeviceKey string
}

// Machine drives device verification for one session. All incoming
// protocol traffic enters through HandleToDevice; user decisions enter
// through the methods on the surfaced states and through Cancel. The
// current state is observable via State and Subscribe.
type Machine struct {
	session   *messaging.Session
	logger    *slog.Logger
	deviceKey string

	mu           sync.Mutex
	state        State
	subscribers  map[int]chan State
	nextID       int
	sessions     map[string]*sasSession
	pendingTxnID string
}

// sasSession is the ephemeral per-handshake state, keyed by
// transaction ID and discarded on every terminal transition.
type sasSession struct {
	transactionID string
	otherUser     ref.UserID
	otherDevice   ref.DeviceID
	weStarted     bool

	keyPair         *sasKeyPair
	theirKey        string
	theirCommitment string
	startCanonical  []byte
	sasBytes        []byte
	secret          []byte
	userMatched     bool
	theirMACSeen    bool
}

// NewMachine validates the configuration and returns an idle machine.
func NewMachine(cfg Config) (*Machine, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("verification: Session is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Machine{
		session:     cfg.Session,
		logger:      logger,
		deviceKey:   cfg.DeviceKey,
		state:       Hidden{},
		subscribers: make(map[int]chan State),
		sessions:    make(map[string]*sasSession),
	}, nil
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe returns a channel carrying state transitions. The channel
// holds the latest state only; a slow reader observes the newest
// transition, not every intermediate one. The returned cancel function
// releases the subscription.
func (m *Machine) Subscribe() (<-chan State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan State, 1)
	m.subscribers[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// setStateLocked replaces the current state and notifies subscribers.
// Callers hold m.mu.
func (m *Machine) setStateLocked(state State) {
	m.state = state
	for _, ch := range m.subscribers {
		select {
		case ch <- state:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
}

// toDeviceContent is the union of the m.key.verification.* payloads.
type toDeviceContent struct {
	TransactionID string            `json:"transaction_id"`
	FromDevice    string            `json:"from_device,omitempty"`
	Methods       []string          `json:"methods,omitempty"`
	Method        string            `json:"method,omitempty"`
	Key           string            `json:"key,omitempty"`
	Commitment    string            `json:"commitment,omitempty"`
	Code          string            `json:"code,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	MAC           map[string]string `json:"mac,omitempty"`
	Keys          string            `json:"keys,omitempty"`

	KeyAgreementProtocols      []string `json:"key_agreement_protocols,omitempty"`
	Hashes                     []string `json:"hashes,omitempty"`
	MessageAuthenticationCode  string   `json:"message_authentication_code,omitempty"`
	MessageAuthenticationCodes []string `json:"message_authentication_codes,omitempty"`
	ShortAuthenticationString  []string `json:"short_authentication_string,omitempty"`
}

// HandleToDevice is the single entry point for verification traffic
// from the sync stream. Events of other types are ignored.
func (m *Machine) HandleToDevice(ctx context.Context, event messaging.ToDeviceEvent) error {
	var content toDeviceContent
	if len(event.Content) > 0 {
		if err := json.Unmarshal(event.Content, &content); err != nil {
			return fmt.Errorf("verification: decoding %s: %w", event.Type, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch event.Type {
	case typeRequest:
		return m.handleRequest(ctx, event.Sender, content)
	case typeReady:
		return m.handleReady(ctx, event.Sender, content)
	case typeStart:
		return m.handleStart(ctx, event.Sender, content, event.Content)
	case typeAccept:
		return m.handleAccept(ctx, content)
	case typeKey:
		return m.handleKey(ctx, content)
	case typeMAC:
		return m.handleMAC(ctx, content)
	case typeDone:
		return m.handleDone(content)
	case typeCancel:
		return m.handleCancel(content)
	default:
		return nil
	}
}

func (m *Machine) handleRequest(ctx context.Context, sender ref.UserID, content toDeviceContent) error {
	if content.TransactionID == "" || content.FromDevice == "" {
		return nil
	}

	// Our own request echoed back, or the counterpart racing us with
	// the same transaction: the locally pending transaction wins and
	// the request is accepted without surfacing anything.
	if content.TransactionID == m.pendingTxnID {
		session := m.ensureSessionLocked(content.TransactionID, sender, content.FromDevice)
		m.setStateLocked(Loading{})
		return m.sendReady(ctx, session)
	}

	fromDevice, err := ref.ParseDeviceID(content.FromDevice)
	if err != nil {
		return fmt.Errorf("verification: malformed request: %w", err)
	}
	m.ensureSessionLocked(content.TransactionID, sender, content.FromDevice)
	transactionID := content.TransactionID
	m.setStateLocked(TheirRequest{
		FromDevice:    fromDevice,
		transactionID: transactionID,
		ready: func(ctx context.Context) error {
			return m.acceptRequest(ctx, transactionID)
		},
	})
	return nil
}

// acceptRequest is the TheirRequest.Ready implementation. Once the
// handshake has advanced past the request, it does nothing.
func (m *Machine) acceptRequest(ctx context.Context, transactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	request, pending := m.state.(TheirRequest)
	if !pending || request.transactionID != transactionID {
		return nil
	}
	session, ok := m.sessions[transactionID]
	if !ok {
		return nil
	}
	m.setStateLocked(Loading{})
	return m.sendReady(ctx, session)
}

func (m *Machine) handleReady(ctx context.Context, sender ref.UserID, content toDeviceContent) error {
	session, ok := m.sessions[content.TransactionID]
	if !ok {
		if content.TransactionID != m.pendingTxnID {
			return nil
		}
		session = m.ensureSessionLocked(content.TransactionID, sender, content.FromDevice)
	}
	if session.otherDevice.IsZero() {
		if device, err := ref.ParseDeviceID(content.FromDevice); err == nil {
			session.otherDevice = device
		}
	}

	if !methodSupported(content.Methods) {
		return m.cancelSession(ctx, session, cancelUnknownMethod, "none of the offered methods are supported", true)
	}

	// A replayed ready for an exchange already under way must not
	// regenerate the key pair or send a second start.
	if session.weStarted || session.keyPair != nil {
		return nil
	}

	// The counterpart accepted our request; we open the SAS exchange.
	m.setStateLocked(Loading{})
	return m.sendStart(ctx, session)
}

func (m *Machine) handleStart(ctx context.Context, sender ref.UserID, content toDeviceContent, raw json.RawMessage) error {
	session := m.ensureSessionLocked(content.TransactionID, sender, content.FromDevice)
	if content.Method != sasMethod {
		return m.cancelSession(ctx, session, cancelUnknownMethod,
			fmt.Sprintf("unsupported method %q", content.Method), true)
	}

	// Both sides may start at once; the protocol resolves the glare in
	// favor of the lexicographically smaller user ID, and for a single
	// user, the smaller device ID. Our own start loses silently here
	// because the counterpart applies the same rule.
	if session.weStarted {
		session.weStarted = false
	}

	pair, err := generateKeyPair()
	if err != nil {
		return err
	}
	session.keyPair = pair
	session.startCanonical, err = canonicalJSON(raw)
	if err != nil {
		return err
	}

	m.setStateLocked(Loading{})
	return m.sendEvent(ctx, session, typeAccept, map[string]any{
		"transaction_id":              session.transactionID,
		"method":                      sasMethod,
		"key_agreement_protocol":      keyAgreement,
		"hash":                        hashAlgorithm,
		"message_authentication_code": macAlgorithm,
		"short_authentication_string": []string{"decimal", "emoji"},
		"commitment":                  commitment(pair.publicKey(), session.startCanonical),
	})
}

func (m *Machine) handleAccept(ctx context.Context, content toDeviceContent) error {
	session, ok := m.sessions[content.TransactionID]
	if !ok || !session.weStarted {
		return nil
	}
	session.theirCommitment = content.Commitment

	// The starter reveals its key first.
	return m.sendEvent(ctx, session, typeKey, map[string]any{
		"transaction_id": session.transactionID,
		"key":            session.keyPair.publicKey(),
	})
}

func (m *Machine) handleKey(ctx context.Context, content toDeviceContent) error {
	session, ok := m.sessions[content.TransactionID]
	if !ok || session.keyPair == nil {
		return nil
	}
	session.theirKey = content.Key

	if session.weStarted {
		// The acceptor committed to its key before seeing ours; check
		// the commitment now that the key is revealed.
		if commitment(content.Key, session.startCanonical) != session.theirCommitment {
			return m.cancelSession(ctx, session, cancelMismatchedSAS, "commitment mismatch", true)
		}
	} else {
		// The starter's key arrived; reveal ours.
		err := m.sendEvent(ctx, session, typeKey, map[string]any{
			"transaction_id": session.transactionID,
			"key":            session.keyPair.publicKey(),
		})
		if err != nil {
			return err
		}
	}

	return m.surfaceComparison(session)
}

// surfaceComparison derives the short authentication string and hands
// it to the user.
func (m *Machine) surfaceComparison(session *sasSession) error {
	secret, err := session.keyPair.sharedSecret(session.theirKey)
	if err != nil {
		return err
	}
	session.secret = secret

	ourUser := m.session.UserID().String()
	ourDevice := m.session.DeviceID().String()
	otherUser := session.otherUser.String()
	otherDevice := session.otherDevice.String()

	var info string
	if session.weStarted {
		info = sasInfo(ourUser, ourDevice, session.keyPair.publicKey(),
			otherUser, otherDevice, session.theirKey, session.transactionID)
	} else {
		info = sasInfo(otherUser, otherDevice, session.theirKey,
			ourUser, ourDevice, session.keyPair.publicKey(), session.transactionID)
	}

	sasBytes, err := deriveSASBytes(secret, info)
	if err != nil {
		return err
	}
	session.sasBytes = sasBytes

	transactionID := session.transactionID
	m.setStateLocked(ComparisonByUser{
		Emojis:   sasEmojis(sasBytes),
		Decimals: sasDecimals(sasBytes),
		match: func(ctx context.Context, matches bool) error {
			return m.matchChallenge(ctx, transactionID, matches)
		},
	})
	return nil
}

// matchChallenge forwards the user's comparison verdict. A match sends
// our MAC; a mismatch cancels the handshake.
func (m *Machine) matchChallenge(ctx context.Context, transactionID string, matches bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[transactionID]
	if !ok {
		return nil
	}
	if !matches {
		return m.cancelSession(ctx, session, cancelMismatchedSAS, "short authentication string mismatch", true)
	}

	session.userMatched = true
	if err := m.sendMAC(ctx, session); err != nil {
		return err
	}
	if session.theirMACSeen {
		return m.finishSession(ctx, session)
	}
	m.setStateLocked(Loading{})
	return nil
}

func (m *Machine) handleMAC(ctx context.Context, content toDeviceContent) error {
	session, ok := m.sessions[content.TransactionID]
	if !ok || session.secret == nil {
		return nil
	}

	// The keys listing MAC proves the counterpart authenticated the
	// same key set over the same shared secret.
	keyIDs := make([]string, 0, len(content.MAC))
	for keyID := range content.MAC {
		keyIDs = append(keyIDs, keyID)
	}
	sort.Strings(keyIDs)
	info := macInfo(session.otherUser.String(), session.otherDevice.String(),
		m.session.UserID().String(), m.session.DeviceID().String(),
		session.transactionID, "KEY_IDS")
	expected, err := calculateMAC(session.secret, strings.Join(keyIDs, ","), info)
	if err != nil {
		return err
	}
	if expected != content.Keys {
		return m.cancelSession(ctx, session, cancelMismatchedSAS, "key listing mac mismatch", true)
	}

	session.theirMACSeen = true
	if session.userMatched {
		return m.finishSession(ctx, session)
	}
	return nil
}

// finishSession sends done and settles into Success.
func (m *Machine) finishSession(ctx context.Context, session *sasSession) error {
	err := m.sendEvent(ctx, session, typeDone, map[string]any{
		"transaction_id": session.transactionID,
	})
	m.clearLocked(session.transactionID)
	m.setStateLocked(Success{})
	return err
}

func (m *Machine) handleDone(content toDeviceContent) error {
	session, ok := m.sessions[content.TransactionID]
	if !ok {
		return nil
	}
	if session.userMatched && session.theirMACSeen {
		m.clearLocked(content.TransactionID)
		m.setStateLocked(Success{})
	}
	return nil
}

func (m *Machine) handleCancel(content toDeviceContent) error {
	m.clearLocked(content.TransactionID)

	// A remote cancel during a pending self-verification offer leaves
	// the offer intact (another device may still answer); any other
	// remote cancel is surfaced.
	if _, selfPending := m.state.(SelfVerification); selfPending {
		return nil
	}
	m.setStateLocked(Canceled{Code: content.Code, Reason: content.Reason})
	return nil
}

// RequestSelf offers verification to the account's other devices. When
// the account has no cross-signing keys yet, the machine surfaces
// Bootstrap instead: the trust root must exist before devices can
// verify against it.
func (m *Machine) RequestSelf(ctx context.Context) error {
	ownUser := m.session.UserID()

	keys, err := m.session.QueryKeys(ctx, messaging.QueryKeysRequest{
		DeviceKeys: map[ref.UserID][]ref.DeviceID{ownUser: {}},
	})
	if err != nil {
		return fmt.Errorf("verification: checking cross-signing keys: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, hasMaster := keys.MasterKeys[ownUser]; !hasMaster {
		m.setStateLocked(Bootstrap{})
		return nil
	}

	transactionID := uuid.NewString()
	m.pendingTxnID = transactionID
	content, err := json.Marshal(map[string]any{
		"transaction_id": transactionID,
		"from_device":    m.session.DeviceID().String(),
		"methods":        []string{sasMethod},
		"timestamp":      nowMillis(),
	})
	if err != nil {
		return err
	}
	err = m.session.SendToDevice(ctx, typeRequest, map[ref.UserID]map[ref.DeviceID]json.RawMessage{
		ownUser: {ref.MustParseDeviceID("*"): content},
	})
	if err != nil {
		m.pendingTxnID = ""
		return fmt.Errorf("verification: sending request: %w", err)
	}
	m.setStateLocked(SelfVerification{Methods: []string{sasMethod}})
	return nil
}

// Cancel abandons the current flow from the local side. The pending
// transaction is cleared and the machine returns to Hidden; with
// restart set, a fresh self-verification request is issued instead.
// manual marks a user-initiated cancel, which is sent to the
// counterpart; an automatic cancel tears down silently.
func (m *Machine) Cancel(ctx context.Context, restart, manual bool) error {
	m.mu.Lock()

	var firstErr error
	if manual {
		for _, session := range m.sessions {
			err := m.sendEvent(ctx, session, typeCancel, map[string]any{
				"transaction_id": session.transactionID,
				"code":           cancelUser,
				"reason":         "verification cancelled by user",
			})
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	m.sessions = make(map[string]*sasSession)
	m.pendingTxnID = ""
	m.setStateLocked(Hidden{})
	m.mu.Unlock()

	if restart {
		if err := m.RequestSelf(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// cancelSession cancels one handshake over the wire and surfaces
// Canceled. Callers hold m.mu.
func (m *Machine) cancelSession(ctx context.Context, session *sasSession, code, reason string, byUs bool) error {
	err := m.sendEvent(ctx, session, typeCancel, map[string]any{
		"transaction_id": session.transactionID,
		"code":           code,
		"reason":         reason,
	})
	m.clearLocked(session.transactionID)
	m.setStateLocked(Canceled{Code: code, Reason: reason, ByUs: byUs})
	return err
}

// clearLocked drops the ephemeral session for a transaction. Callers
// hold m.mu.
func (m *Machine) clearLocked(transactionID string) {
	delete(m.sessions, transactionID)
	if m.pendingTxnID == transactionID {
		m.pendingTxnID = ""
	}
}

func (m *Machine) ensureSessionLocked(transactionID string, sender ref.UserID, fromDevice string) *sasSession {
	if session, ok := m.sessions[transactionID]; ok {
		return session
	}
	session := &sasSession{
		transactionID: transactionID,
		otherUser:     sender,
	}
	if device, err := ref.ParseDeviceID(fromDevice); err == nil {
		session.otherDevice = device
	}
	m.sessions[transactionID] = session
	return session
}

func (m *Machine) sendReady(ctx context.Context, session *sasSession) error {
	return m.sendEvent(ctx, session, typeReady, map[string]any{
		"transaction_id": session.transactionID,
		"from_device":    m.session.DeviceID().String(),
		"methods":        []string{sasMethod},
	})
}

// sendStart opens the SAS exchange with our fresh ephemeral key. The
// start content is retained verbatim: the acceptor's commitment hashes
// it, and both sides must hash identical bytes.
func (m *Machine) sendStart(ctx context.Context, session *sasSession) error {
	pair, err := generateKeyPair()
	if err != nil {
		return err
	}
	session.keyPair = pair
	session.weStarted = true

	startContent := map[string]any{
		"from_device":                  m.session.DeviceID().String(),
		"method":                       sasMethod,
		"transaction_id":               session.transactionID,
		"key_agreement_protocols":      []string{keyAgreement},
		"hashes":                       []string{hashAlgorithm},
		"message_authentication_codes": []string{macAlgorithm},
		"short_authentication_string":  []string{"decimal", "emoji"},
	}
	encoded, err := json.Marshal(startContent)
	if err != nil {
		return fmt.Errorf("verification: encoding start: %w", err)
	}
	session.startCanonical, err = canonicalJSON(encoded)
	if err != nil {
		return err
	}
	return m.sendEvent(ctx, session, typeStart, startContent)
}

// sendMAC authenticates our device key and the key listing over the
// shared secret.
func (m *Machine) sendMAC(ctx context.Context, session *sasSession) error {
	ourUser := m.session.UserID().String()
	ourDevice := m.session.DeviceID().String()
	otherUser := session.otherUser.String()
	otherDevice := session.otherDevice.String()

	deviceKeyID := "ed25519:" + ourDevice
	authenticated := m.deviceKey
	if authenticated == "" {
		authenticated = ourDevice
	}
	deviceKeyMAC, err := calculateMAC(session.secret, authenticated,
		macInfo(ourUser, ourDevice, otherUser, otherDevice, session.transactionID, deviceKeyID))
	if err != nil {
		return err
	}
	keysMAC, err := calculateMAC(session.secret, deviceKeyID,
		macInfo(ourUser, ourDevice, otherUser, otherDevice, session.transactionID, "KEY_IDS"))
	if err != nil {
		return err
	}
	return m.sendEvent(ctx, session, typeMAC, map[string]any{
		"transaction_id": session.transactionID,
		"mac":            map[string]string{deviceKeyID: deviceKeyMAC},
		"keys":           keysMAC,
	})
}

func (m *Machine) sendEvent(ctx context.Context, session *sasSession, eventType ref.EventType, content map[string]any) error {
	encoded, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("verification: encoding %s: %w", eventType, err)
	}
	device := session.otherDevice
	if device.IsZero() {
		device = ref.MustParseDeviceID("*")
	}
	err = m.session.SendToDevice(ctx, eventType, map[ref.UserID]map[ref.DeviceID]json.RawMessage{
		session.otherUser: {device: encoded},
	})
	if err != nil {
		return fmt.Errorf("verification: sending %s: %w", eventType, err)
	}
	return nil
}

func methodSupported(methods []string) bool {
	for _, method := range methods {
		if method == sasMethod {
			return true
		}
	}
	return false
}

func nowMillis() int64 { return time.Now().UnixMilli() }
