package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-key"
	testIssuer = "attendance-test"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{in: "admin", want: RoleAdmin},
		{in: " Student ", want: RoleStudent},
		{in: "teacher", want: RoleTeacher},
		{in: "1", want: RoleAdmin},
		{in: "2", want: RoleStudent},
		{in: "3", want: RoleTeacher},
		{in: "root", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoleCapabilities(t *testing.T) {
	assert.True(t, RoleAdmin.Can(CapManageClasses))
	assert.True(t, RoleAdmin.Can(CapManageSessions))
	assert.False(t, RoleAdmin.Can(CapCheckIn))

	assert.True(t, RoleTeacher.Can(CapManageSessions))
	assert.False(t, RoleTeacher.Can(CapManageClasses))

	assert.True(t, RoleStudent.Can(CapCheckIn))
	assert.False(t, RoleStudent.Can(CapManageSessions))

	assert.False(t, Role("ghost").Can(CapCheckIn))
}

func TestRoleUnmarshalLegacyCode(t *testing.T) {
	var c struct {
		Role Role `json:"role"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"role":"1"}`), &c))
	assert.Equal(t, RoleAdmin, c.Role)

	require.Error(t, json.Unmarshal([]byte(`{"role":"9"}`), &c))
}

func TestIssueParseRoundTrip(t *testing.T) {
	tok, err := Issue("S1", RoleStudent, testIssuer, testKey, time.Minute)
	require.NoError(t, err)

	id, err := Parse(tok.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "S1", Role: RoleStudent}, id)
}

func TestParseRejects(t *testing.T) {
	good, err := Issue("S1", RoleStudent, testIssuer, testKey, time.Minute)
	require.NoError(t, err)
	expired, err := Issue("S1", RoleStudent, testIssuer, testKey, -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		key    string
		issuer string
	}{
		{name: "wrong key", token: good.AccessToken, key: "other", issuer: testIssuer},
		{name: "wrong issuer", token: good.AccessToken, key: testKey, issuer: "someone-else"},
		{name: "expired", token: expired.AccessToken, key: testKey, issuer: testIssuer},
		{name: "garbage", token: "not.a.jwt", key: testKey, issuer: testIssuer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.token, tt.key, tt.issuer)
			assert.Error(t, err)
		})
	}
}

func TestIssueRejectsUnknownRole(t *testing.T) {
	_, err := Issue("S1", Role("root"), testIssuer, testKey, time.Minute)
	require.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/staff", Authenticate(testKey, testIssuer), Require(CapManageSessions), func(c *gin.Context) {
		id, _ := FromContext(c)
		c.String(http.StatusOK, id.UserID)
	})

	teacher, err := Issue("T1", RoleTeacher, testIssuer, testKey, time.Minute)
	require.NoError(t, err)
	student, err := Issue("S1", RoleStudent, testIssuer, testKey, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		wantCode int
	}{
		{name: "no header", wantCode: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", wantCode: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", wantCode: http.StatusUnauthorized},
		{name: "student forbidden", header: "Bearer " + student.AccessToken, wantCode: http.StatusForbidden},
		{name: "teacher allowed", header: "Bearer " + teacher.AccessToken, wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/staff", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}
