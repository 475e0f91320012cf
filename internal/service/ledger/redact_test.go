package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stickertrendz/pipeline/internal/service/ledger"
)

func TestRedact(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bearer token",
			in:   "request failed: Bearer abcdef0123456789ABCDEF",
			want: "request failed: [REDACTED]",
		},
		{
			name: "openai key",
			in:   "401 from api, key sk-abcdefghijklmnopqrstuvwx rejected",
			want: "401 from api, key [REDACTED] rejected",
		},
		{
			name: "replicate key",
			in:   "bad credential r8_ABCDEFGHIJKLMNOPQRSTUVWX",
			want: "bad credential [REDACTED]",
		},
		{
			name: "token assignment",
			in:   "retrying with token=abcdefghij0123456789xyz",
			want: "retrying with [REDACTED]",
		},
		{
			name: "short token not redacted",
			in:   "token=short",
			want: "token=short",
		},
		{
			name: "password",
			in:   "login failed password=hunter2",
			want: "login failed [REDACTED]",
		},
		{
			name: "email",
			in:   "receipt for buyer@example.com failed",
			want: "receipt for [REDACTED] failed",
		},
		{
			name: "card-like digits",
			in:   "declined card 4111111111111111",
			want: "declined card [REDACTED]",
		},
		{
			name: "short digit run untouched",
			in:   "order 123456789012 shipped",
			want: "order 123456789012 shipped",
		},
		{
			name: "clean string",
			in:   "listing 42 not found",
			want: "listing 42 not found",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ledger.Redact(tc.in))
		})
	}
}

func TestRedactContext_DropsPIIKeys(t *testing.T) {
	t.Parallel()
	in := map[string]any{
		"customer_email": "a@b.com",
		"Customer_Name":  "someone",
		"EMAIL":          "x@y.org",
		"endpoint":       "/v1/orders",
		"attempts":       3,
	}

	out := ledger.RedactContext(in)
	assert.NotContains(t, out, "customer_email")
	assert.NotContains(t, out, "Customer_Name")
	assert.NotContains(t, out, "EMAIL")
	assert.Equal(t, "/v1/orders", out["endpoint"])
	assert.Equal(t, 3, out["attempts"])
}

func TestRedactContext_RedactsStringValues(t *testing.T) {
	t.Parallel()
	in := map[string]any{
		"detail": "denied: Bearer abcdef0123456789ABCDEF",
	}
	out := ledger.RedactContext(in)
	assert.Equal(t, "denied: [REDACTED]", out["detail"])
}

func TestRedactContext_RecursesIntoNestedMaps(t *testing.T) {
	t.Parallel()
	in := map[string]any{
		"request": map[string]any{
			"api_key": "sk-abcdefghijklmnopqrstuvwx",
			"path":    "/v1/listings",
			"body":    "auth sk-abcdefghijklmnopqrstuvwx sent",
		},
	}

	out := ledger.RedactContext(in)
	nested, ok := out["request"].(map[string]any)
	assert.True(t, ok)
	assert.NotContains(t, nested, "api_key")
	assert.Equal(t, "/v1/listings", nested["path"])
	assert.Equal(t, "auth [REDACTED] sent", nested["body"])
}

func TestRedactContext_NonStringValuesPassThrough(t *testing.T) {
	t.Parallel()
	in := map[string]any{
		"count":   7,
		"ok":      true,
		"ratio":   0.5,
		"listing": []string{"a", "b"},
	}
	out := ledger.RedactContext(in)
	assert.Equal(t, in, out)
}

func TestRedactContext_Nil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, ledger.RedactContext(nil))
}
