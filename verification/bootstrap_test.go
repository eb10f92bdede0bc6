// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"context"
	"fmt"
	"testing"
)

func TestBootstrapUploadsSignedKeysAndRequestsOtherDevices(t *testing.T) {
	server := &verificationServer{t: t, devices: []map[string]any{
		{"device_id": "AAAA"},
		{"device_id": "BBBB"},
		{"device_id": "CCCC"},
	}}
	machine := newTestMachine(t, server, "AAAA")

	err := machine.Bootstrap(context.Background(), BootstrapOptions{
		Passphrase: "correct horse battery staple",
	})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	if server.uploadCalls != 1 {
		t.Errorf("upload calls = %d, want 1", server.uploadCalls)
	}
	body := server.uploadBodies[0]
	for _, name := range []string{"master_key", "self_signing_key", "user_signing_key"} {
		key, ok := body[name].(map[string]any)
		if !ok {
			t.Fatalf("upload body missing %s", name)
		}
		if name != "master_key" {
			if _, signed := key["signatures"]; !signed {
				t.Errorf("%s carries no master signature", name)
			}
		}
	}
	if _, hasAuth := body["auth"]; hasAuth {
		t.Error("first upload attempt carried an auth dict")
	}

	// The other two devices get a verification request; this device
	// does not.
	requests := 0
	for _, event := range server.drain() {
		if event.eventType == typeRequest {
			requests++
		}
	}
	if requests != 2 {
		t.Errorf("verification requests sent = %d, want 2", requests)
	}

	if _, ok := machine.State().(SelfVerification); !ok {
		t.Errorf("state = %T, want SelfVerification", machine.State())
	}
}

func TestBootstrapRetriesUIAThreeTimesThenFails(t *testing.T) {
	server := &verificationServer{t: t, uploadReject: true}
	machine := newTestMachine(t, server, "AAAA")

	err := machine.Bootstrap(context.Background(), BootstrapOptions{
		Passphrase:      "correct horse battery staple",
		AccountPassword: "hunter2",
	})
	if err == nil {
		t.Fatal("Bootstrap succeeded against a rejecting server")
	}
	// One unauthenticated call, then exactly three authenticated
	// retries against the persistent challenge, never a fifth call.
	wantCalls := uiaAttemptCeiling + 1
	if server.uploadCalls != wantCalls {
		t.Fatalf("upload calls = %d, want exactly %d", server.uploadCalls, wantCalls)
	}

	// The first call is unauthenticated; each retry re-derives its
	// auth dict against the challenge it just received.
	if _, hasAuth := server.uploadBodies[0]["auth"]; hasAuth {
		t.Error("first call carried an auth dict")
	}
	for retry := 1; retry <= uiaAttemptCeiling; retry++ {
		auth, ok := server.uploadBodies[retry]["auth"].(map[string]any)
		if !ok {
			t.Fatalf("retry %d carried no auth dict", retry)
		}
		wantSession := fmt.Sprintf("uia%d", retry)
		if auth["session"] != wantSession {
			t.Errorf("retry %d auth session = %v, want %s", retry, auth["session"], wantSession)
		}
		if auth["password"] != "hunter2" {
			t.Errorf("retry %d auth password = %v, want the account password", retry, auth["password"])
		}
		if auth["type"] != "m.login.password" {
			t.Errorf("retry %d auth type = %v", retry, auth["type"])
		}
	}
}

func TestRequestSelfWithoutCrossSigningEntersBootstrap(t *testing.T) {
	server := &verificationServer{t: t}
	machine := newTestMachine(t, server, "AAAA")

	if err := machine.RequestSelf(context.Background()); err != nil {
		t.Fatalf("RequestSelf: %v", err)
	}
	if _, ok := machine.State().(Bootstrap); !ok {
		t.Fatalf("state = %T, want Bootstrap", machine.State())
	}
	if sent := server.drain(); len(sent) != 0 {
		t.Errorf("sent %d events before bootstrap, want 0", len(sent))
	}
}
