package influx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteLP_SendsBodyAndParams(t *testing.T) {
	var (
		gotPath  string
		gotQuery map[string][]string
		gotBody  string
		gotAuth  bool
		gotCT    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		user, pass, ok := r.BasicAuth()
		gotAuth = ok && user == "icinga" && pass == "secret"
		gotCT = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := New(Options{URL: srv.URL, Username: "icinga", Password: "secret"})
	require.NoError(t, err)

	lines := "used_pct,host=h1,service=disk,check_command=check_disk value=3.14 1700000000\n"
	require.NoError(t, c.WriteLP(context.Background(), "icinga2_history", "s", []byte(lines)))

	require.Equal(t, "/write", gotPath)
	require.Equal(t, []string{"icinga2_history"}, gotQuery["db"])
	require.Equal(t, []string{"s"}, gotQuery["precision"])
	require.Equal(t, lines, gotBody)
	require.True(t, gotAuth, "request must carry basic auth")
	require.Contains(t, gotCT, "text/plain")
}

func TestWriteLP_MicrosecondAlias(t *testing.T) {
	var gotPrecision string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrecision = r.URL.Query().Get("precision")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := New(Options{URL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, c.WriteLP(context.Background(), "db", "us", []byte("m value=1 1\n")))
	require.Equal(t, "u", gotPrecision)
}

func TestWriteLP_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"unable to parse points"}`)
	}))
	defer srv.Close()

	c, err := New(Options{URL: srv.URL})
	require.NoError(t, err)

	err = c.WriteLP(context.Background(), "db", "s", []byte("garbage\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 400")
	require.Contains(t, err.Error(), "unable to parse points")
}

func TestQuery_ParsesSeries(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"results": [{
				"series": [{
					"name": "check_disk",
					"tags": {"hostname": "h1", "service": "disk", "metric": "used_pct"},
					"columns": ["time", "first_value"],
					"values": [[1690000000, 12.5]]
				}]
			}]
		}`)
	}))
	defer srv.Close()

	c, err := New(Options{URL: srv.URL})
	require.NoError(t, err)

	series, err := c.Query(context.Background(), "icinga2", `SHOW MEASUREMENTS`)
	require.NoError(t, err)
	require.Len(t, series, 1)
	require.Equal(t, "check_disk", series[0].Name)
	require.Equal(t, "h1", series[0].Tags["hostname"])
	require.Len(t, series[0].Values, 1)

	require.Equal(t, []string{"icinga2"}, gotQuery["db"])
	require.Equal(t, []string{"SHOW MEASUREMENTS"}, gotQuery["q"])
	require.Equal(t, []string{"s"}, gotQuery["epoch"])
}

func TestQuery_ResultError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"results":[{"error":"database not found: nope"}]}`)
	}))
	defer srv.Close()

	c, err := New(Options{URL: srv.URL})
	require.NoError(t, err)

	_, err = c.Query(context.Background(), "nope", "SHOW MEASUREMENTS")
	require.Error(t, err)
	require.Contains(t, err.Error(), "database not found")
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ping", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))

	c, err := New(Options{URL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, c.Ping(context.Background()))

	// A closed server is an unreachable database.
	srv.Close()
	require.Error(t, c.Ping(context.Background()))
}

func TestNew_InvalidURL(t *testing.T) {
	for _, bad := range []string{"", "not a url", "host:8086"} {
		_, err := New(Options{URL: bad})
		require.Error(t, err, "URL %q must be rejected", bad)
	}
}
