package validation

import (
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestIsValidEthAddress(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"0x1234567890123456789012345678901234567890", true},
		{"0xabcdefABCDEF1234567890123456789012345678", true},
		{"0XABCDEF1234567890123456789012345678901234", true},
		{"1234567890123456789012345678901234567890", false},   // No 0x
		{"0x12345678901234567890123456789012345678", false},   // Too short
		{"0xGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGG", false}, // Invalid chars
		{"", false},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.valid, IsValidEthAddress(tc.addr), tc.addr)
	}
}

func TestIsHTTPURL(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"http://localhost:9000/hook", true},
		{"https://alerts.example.com/pulseguard", true},
		{"ftp://example.com", false},
		{"example.com/hook", false},
		{"https://", false},
		{"", false},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.valid, IsHTTPURL(tc.in), tc.in)
	}
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hello  "))
	assert.Equal(t, "hello world", SanitizeString("hello world"))
	assert.Equal(t, "ab", SanitizeString("a\x00b"))
}

func TestValidate_CollectsErrors(t *testing.T) {
	errs := Validate(
		Required("from", ""),
		NonNegative("value", -1),
		WholeNumber("gas", 1.5),
		NonNegative("value", math.NaN()),
		HTTPURL("url", "https://ok.example.com"),
	)

	assert.Len(t, errs, 4)
	assert.Equal(t, "from: is required", errs.Error())
	assert.Equal(t, "must not be negative", errs[1].Message)
	assert.Equal(t, "must be an integer", errs[2].Message)
	assert.Equal(t, "must be a finite number", errs[3].Message)
}

func TestAtMost(t *testing.T) {
	assert.Nil(t, AtMost("gas", 10, 10)())
	if err := AtMost("gas", 11, 10)(); assert.NotNil(t, err) {
		assert.Equal(t, "gas", err.Field)
	}
	assert.Nil(t, AtMost("gas", math.Inf(-1), 10)())
}

func TestValidate_NoErrors(t *testing.T) {
	errs := Validate(Required("x", "y"), MaxLength("x", "y", 3), NonNegative("v", 0))
	assert.Empty(t, errs)
	assert.Equal(t, "validation failed", ValidationErrors{}.Error())
}

func TestRequestSizeMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestSizeMiddleware(16))
	r.POST("/echo", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"a":1}`))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"a":"`+strings.Repeat("x", 64)+`"}`))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
