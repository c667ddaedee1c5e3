package plugin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateName_RejectsTraversal(t *testing.T) {
	require.NoError(t, ValidateName("auth"))
	require.Error(t, ValidateName(""))
	require.Error(t, ValidateName("../etc"))
	require.Error(t, ValidateName("a/b"))
	require.Error(t, ValidateName(`a\b`))
}

func echoMiddleware(tag string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("X-Chain", tag)
			next.ServeHTTP(w, r)
		})
	}
}

func TestRegistry_LoadCachesByRouteAndName(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Register("noop", func(params map[string]any) (Middleware, error) {
		calls++
		return echoMiddleware("noop"), nil
	})

	_, err := r.Load("/a", "noop", nil)
	require.NoError(t, err)
	_, err = r.Load("/a", "noop", nil)
	require.NoError(t, err)
	require.Equal(t, 1, calls, "second load for the same route+name should hit the cache")

	_, err = r.Load("/b", "noop", nil)
	require.NoError(t, err)
	require.Equal(t, 2, calls, "a different route gets its own instance")
}

func TestRegistry_UnknownPluginErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Load("/a", "nope", nil)
	require.Error(t, err)
}

func TestRegistry_FactoryReturningNilIsLoadError(t *testing.T) {
	r := NewRegistry()
	r.Register("broken", func(params map[string]any) (Middleware, error) {
		return nil, nil
	})
	_, err := r.Load("/a", "broken", nil)
	require.Error(t, err)
}

func TestRegistry_ClearCacheForcesReload(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Register("noop", func(params map[string]any) (Middleware, error) {
		calls++
		return echoMiddleware("noop"), nil
	})

	_, _ = r.Load("/a", "noop", nil)
	r.ClearCache()
	_, _ = r.Load("/a", "noop", nil)
	require.Equal(t, 2, calls)
}

func TestChain_RunsOutermostFirst(t *testing.T) {
	var order []string
	mw := func(tag string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, tag)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain([]Middleware{mw("first"), mw("second")}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "final")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, []string{"first", "second", "final"}, order)
}
