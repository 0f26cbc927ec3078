package provider

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractCode(t *testing.T) {
	cases := []struct {
		message string
		code    string
		ok      bool
	}{
		{"Your Telegram code is 48291", "48291", true},
		{"G-482913 is your Google verification code", "482913", true},
		{"Use 1234 to sign in", "1234", true},
		{"Code: 12345678, valid for 10 minutes", "12345678", true},
		{"Welcome! No digits here", "", false},
		{"Short 123 only", "", false},
		{"", "", false},
	}

	for _, tc := range cases {
		code, ok := ExtractCode(tc.message)
		require.Equal(t, tc.ok, ok, "message: %q", tc.message)
		require.Equal(t, tc.code, code, "message: %q", tc.message)
	}
}

func TestTranslateWebhook(t *testing.T) {
	status, err := TranslateWebhook("textverified", &WebhookPayload{ID: "1", Status: "verificationCompleted", Code: "482913"})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, status.Kind)
	require.Equal(t, "482913", status.Code)
	require.False(t, status.CodeHeuristic)

	// No structured code: digits pulled out of the message text
	status, err = TranslateWebhook("smspva", &WebhookPayload{ID: "1", Status: "received", SMS: "Your code is 55667"})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, status.Kind)
	require.Equal(t, "55667", status.Code)
	require.True(t, status.CodeHeuristic)

	status, err = TranslateWebhook("smspva", &WebhookPayload{ID: "1", Status: "timeout"})
	require.NoError(t, err)
	require.Equal(t, StatusTerminated, status.Kind)
	require.Equal(t, ReasonTimedOut, status.Reason)

	status, err = TranslateWebhook("textverified", &WebhookPayload{ID: "1", Status: "pending", Time: 300})
	require.NoError(t, err)
	require.Equal(t, StatusPending, status.Kind)
	require.Equal(t, 300, status.RemainingSeconds)

	_, err = TranslateWebhook("smspva", &WebhookPayload{ID: "1", Status: "???"})
	require.Error(t, err)
}

func TestParseWebhookNumericID(t *testing.T) {
	payload, err := ParseWebhook([]byte(`{"id": 9001, "status": "received", "sms": "code 12345"}`))
	require.NoError(t, err)
	require.Equal(t, "9001", payload.ID)

	payload, err = ParseWebhook([]byte(`{"id": "abc-1", "status": "cancelled"}`))
	require.NoError(t, err)
	require.Equal(t, "abc-1", payload.ID)

	_, err = ParseWebhook([]byte(`{"status": "received"}`))
	require.Error(t, err)

	_, err = ParseWebhook([]byte(`not json`))
	require.Error(t, err)
}
