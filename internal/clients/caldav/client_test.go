package caldav

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsConfigured(t *testing.T) {
	assert.False(t, NewClient("http://cal", "", "", "").IsConfigured())
	assert.False(t, NewClient("http://cal", "user", "pass", "").IsConfigured())
	assert.True(t, NewClient("http://cal", "user", "pass", "/calendars/agenda/").IsConfigured())
}

func TestRemoveEventIssuesAuthenticatedDelete(t *testing.T) {
	var method, path, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "user", "pass", "/calendars/agenda/")
	require.NoError(t, c.RemoveEvent(context.Background(), "synexa-reminder-3"))

	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "/calendars/agenda/synexa-reminder-3.ics", path)
	assert.Contains(t, auth, "Basic ")
}

func TestEventPathNormalizesTrailingSlash(t *testing.T) {
	c := NewClient("http://cal", "user", "pass", "/calendars/agenda")
	assert.Equal(t, "/calendars/agenda/uid.ics", c.eventPath("uid"))
}
