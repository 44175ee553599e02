package httpclient

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) HttpClientWrapper {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	base, err := url.Parse(srv.URL + "/api/")
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := &http.Client{Transport: NewBasicAuthTransport("alice", "secret", nil, logger)}
	c, err := NewHttpClientWrapper(client, *base, logger)
	require.NoError(t, err)
	return c
}

func TestRequests(t *testing.T) {
	type seen struct {
		method, path, contentType, ifMatch, body, user, pass string
	}
	tests := []struct {
		name string
		call func(HttpClientWrapper) (*Response, error)
		want seen
	}{
		{
			name: "get",
			call: func(c HttpClientWrapper) (*Response, error) { return c.DoGET("alice/items/1/instances?start=x") },
			want: seen{method: http.MethodGet, path: "/api/alice/items/1/instances"},
		},
		{
			name: "put",
			call: func(c HttpClientWrapper) (*Response, error) {
				return c.DoPUT("alice/items", "text/calendar", `"7"`, []byte("BEGIN:VCALENDAR"))
			},
			want: seen{method: http.MethodPut, path: "/api/alice/items", contentType: "text/calendar", ifMatch: `"7"`, body: "BEGIN:VCALENDAR"},
		},
		{
			name: "post",
			call: func(c HttpClientWrapper) (*Response, error) {
				return c.DoPOST("alice/items/1/attendees", "application/xml", []byte("<attendees/>"))
			},
			want: seen{method: http.MethodPost, path: "/api/alice/items/1/attendees", contentType: "application/xml", body: "<attendees/>"},
		},
		{
			name: "delete",
			call: func(c HttpClientWrapper) (*Response, error) { return c.DoDELETE("/api/alice/items/1") },
			want: seen{method: http.MethodDelete, path: "/api/alice/items/1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got seen
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				got = seen{method: r.Method, path: r.URL.Path, contentType: r.Header.Get("Content-Type"), ifMatch: r.Header.Get("If-Match"), body: string(body)}
				got.user, got.pass, _ = r.BasicAuth()
				w.Header().Set("Location", "/api/alice/items/1")
				w.WriteHeader(http.StatusTeapot)
				_, _ = w.Write([]byte("short and stout"))
			})

			resp, err := tt.call(c)
			require.NoError(t, err)
			assert.Equal(t, http.StatusTeapot, resp.StatusCode)
			assert.Equal(t, "short and stout", string(resp.Body))
			assert.Equal(t, "/api/alice/items/1", resp.Header.Get("Location"))

			tt.want.user, tt.want.pass = "alice", "secret"
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewHttpClientWrapper_RequiresLogger(t *testing.T) {
	_, err := NewHttpClientWrapper(nil, url.URL{}, nil)
	assert.Error(t, err)
}

func TestBasicAuthTransport_Errors(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)

	_, err := NewBasicAuthTransport("", "secret", nil, nil).RoundTrip(req)
	assert.ErrorContains(t, err, "username")
	_, err = NewBasicAuthTransport("alice", "", nil, nil).RoundTrip(req)
	assert.ErrorContains(t, err, "password")
}
