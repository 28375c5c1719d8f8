package kv

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// rtdb serves the Realtime Database REST calls the store makes, keyed by
// escaped path the way the emulator keeps them.
type rtdb struct {
	t *testing.T

	mu    sync.Mutex
	nodes map[string]string
}

func (f *rtdb) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if ns := r.URL.Query().Get("ns"); ns != "funnel-test" {
		f.t.Errorf("unexpected namespace %q", ns)
	}
	path := strings.TrimSuffix(r.URL.EscapedPath(), ".json")

	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodGet:
		value, ok := f.nodes[path]
		if !ok {
			value = "null"
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, value)
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.nodes[path] = string(body)
	case http.MethodDelete:
		delete(f.nodes, path)
		_, _ = io.WriteString(w, "null")
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (f *rtdb) node(path string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.nodes[path]
	return v, ok
}

func newFirebase(t *testing.T) (*Firebase, *rtdb) {
	t.Helper()
	fake := &rtdb{t: t, nodes: make(map[string]string)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	host := strings.Replace(strings.TrimPrefix(srv.URL, "http://"), "127.0.0.1", "localhost", 1)
	f, err := OpenFirebase(context.Background(), "", host+"?ns=funnel-test", "")
	require.NoError(t, err)
	return f, fake
}

func TestFirebase(t *testing.T) {
	f, _ := newFirebase(t)
	exerciseStore(t, f)
}

func TestFirebaseStoresBlobsAsStringsUnderRoot(t *testing.T) {
	f, fake := newFirebase(t)
	require.NoError(t, f.Set(context.Background(), Key("sess.a", "utm[0]"), []byte(`{"utm_source":"fb"}`)))

	raw, ok := fake.node("/funnel/sess%2Ea:utm%5B0%5D")
	require.True(t, ok, "escaped key under the default root")
	require.JSONEq(t, `"{\"utm_source\":\"fb\"}"`, raw)

	got, err := f.Get(context.Background(), Key("sess.a", "utm[0]"))
	require.NoError(t, err)
	require.JSONEq(t, `{"utm_source":"fb"}`, string(got))
}

func TestOpenFirebaseNeedsCredentialsForHostedDatabase(t *testing.T) {
	_, err := OpenFirebase(context.Background(), "", "https://funnel.firebaseio.com", "")
	require.ErrorContains(t, err, "credentials")

	_, err = OpenFirebase(context.Background(), "", "", "")
	require.Error(t, err)
}

func TestFirebaseKeyEscaping(t *testing.T) {
	require.Equal(t, "sess%2Ea:utm%5B0%5D", firebaseKeyEscaper.Replace("sess.a:utm[0]"))
}
