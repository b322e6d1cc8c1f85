package dispatch

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name         string
		message      string
		status       int
		kind         ErrorKind
		permanent    bool
		cleanupToken bool
	}{
		{"device not registered", "DeviceNotRegistered", 200, KindDeviceNotRegistered, true, true},
		{"unregistered text", "token is unregistered", 200, KindDeviceNotRegistered, true, true},
		{"invalid token", "invalid push token supplied", 400, KindInvalidToken, true, true},
		{"payload too large status", "entity too big", 413, KindPayloadTooLarge, true, false},
		{"message too big text", "MessageTooBig", 200, KindPayloadTooLarge, true, false},
		{"rate limit status", "slow down", 429, KindRateLimited, false, false},
		{"rate limit text", "MessageRateExceeded", 200, KindRateLimited, false, false},
		{"timeout", "context deadline exceeded: timeout", 0, KindNetworkError, false, false},
		{"connection refused", "dial tcp: connection refused", 0, KindNetworkError, false, false},
		{"server error status", "internal error", 503, KindNetworkError, false, false},
		{"unrecognized", "some brand new failure mode", 200, KindUnknown, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			perr := Classify(tc.message, tc.status)
			if perr.Kind != tc.kind {
				t.Fatalf("kind = %s, want %s", perr.Kind, tc.kind)
			}
			if perr.Permanent != tc.permanent {
				t.Fatalf("permanent = %v, want %v", perr.Permanent, tc.permanent)
			}
			if perr.CleanupToken != tc.cleanupToken {
				t.Fatalf("cleanupToken = %v, want %v", perr.CleanupToken, tc.cleanupToken)
			}
			if perr.Message != tc.message {
				t.Fatalf("message = %q, want original text preserved", perr.Message)
			}
		})
	}
}

func TestValidTokenFormat(t *testing.T) {
	valid := []string{
		"ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]",
		"ExpoPushToken[abc123]",
		"fcm-token_1234567890:APA91b",
	}
	for _, token := range valid {
		if !ValidTokenFormat(token) {
			t.Errorf("ValidTokenFormat(%q) = false, want true", token)
		}
	}

	invalid := []string{
		"",
		"short",
		"has spaces in it which is wrong",
		"ExponentPushToken[]",
		"ExponentPushToken[abc",
	}
	for _, token := range invalid {
		if ValidTokenFormat(token) {
			t.Errorf("ValidTokenFormat(%q) = true, want false", token)
		}
	}
}
