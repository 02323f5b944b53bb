package urlnorm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase host and strip www", "https://www.Example.com/Path/", "https://example.com/Path"},
		{"default http port", "http://example.com:80/a?b=2&a=1#frag", "http://example.com/a?a=1&b=2"},
		{"default https port and empty path", "https://example.com:443", "https://example.com/"},
		{"non-default port kept", "http://example.com:8080/x", "http://example.com:8080/x"},
		{"tracking params dropped", "https://example.com/a?utm_source=x&id=3&fbclid=y", "https://example.com/a?id=3"},
		{"only tracking params", "https://example.com/a?utm_source=x&gclid=1", "https://example.com/a"},
		{"multiple trailing slashes", "https://example.com/a///", "https://example.com/a"},
		{"not a url", "not a url", "not a url"},
		{"mailto unchanged", "mailto:someone@example.com", "mailto:someone@example.com"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Canonicalize(tt.in); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCanonicalizeEquivalenceClass(t *testing.T) {
	variants := []string{
		"https://www.example.com/post/?utm_medium=email",
		"https://example.com/post",
		"https://EXAMPLE.com:443/post/#comments",
		"https://example.com/post?utm_campaign=weekly&utm_source=news",
	}

	want := "https://example.com/post"
	for _, v := range variants {
		if got := Canonicalize(v); got != want {
			t.Errorf("Expected %q for %q, got %q", want, v, got)
		}
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	inputs := []string{
		"https://www.www.example.com/a/b/?z=1&a=2#x",
		"http://example.com:80",
		"https://example.com/Some/Path?utm_term=t&q=go",
		"https://user:pw@Example.org:443/x//",
		"https://example.com/a%2Fb/",
	}

	for _, in := range inputs {
		once := Canonicalize(in)
		twice := Canonicalize(once)
		if once != twice {
			t.Errorf("Expected idempotence for %q: %q then %q", in, once, twice)
		}
	}
}

func TestUnwrapTracking(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{
			"https://tracking.tldrnewsletter.com/CL0/https:%2F%2Fexample.com%2Farticle/1/0100abc",
			"https://example.com/article",
		},
		{
			"https://tracking.tldrnewsletter.com/CL0/notaurl/1/abc",
			"https://tracking.tldrnewsletter.com/CL0/notaurl/1/abc",
		},
		{"https://example.com/x", "https://example.com/x"},
	}

	for _, tt := range tests {
		if got := UnwrapTracking(tt.in); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}

type fakeResolver struct {
	ResolveFunc func(ctx context.Context, rawURL string) (string, error)
	calls       int
}

func (f *fakeResolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	f.calls++
	return f.ResolveFunc(ctx, rawURL)
}

func TestNormalizerFollowsRedirect(t *testing.T) {
	resolver := &fakeResolver{ResolveFunc: func(ctx context.Context, rawURL string) (string, error) {
		return "https://www.example.com/final/?utm_source=x", nil
	}}
	n := NewNormalizer(resolver, time.Second)

	got := n.Normalize(context.Background(), "https://short.link/abc")
	if got != "https://example.com/final" {
		t.Errorf("Expected redirected URL, got %q", got)
	}
	if resolver.calls != 1 {
		t.Errorf("Expected 1 resolver call, got %d", resolver.calls)
	}
}

func TestNormalizerFallsBackOnResolverError(t *testing.T) {
	resolver := &fakeResolver{ResolveFunc: func(ctx context.Context, rawURL string) (string, error) {
		return "", errors.New("boom")
	}}
	n := NewNormalizer(resolver, time.Second)

	got := n.Normalize(context.Background(), "https://www.example.com/a/")
	if got != "https://example.com/a" {
		t.Errorf("Expected fallback to canonical input, got %q", got)
	}
}

func TestNormalizerTimeout(t *testing.T) {
	resolver := &fakeResolver{ResolveFunc: func(ctx context.Context, rawURL string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	n := NewNormalizer(resolver, 20*time.Millisecond)

	start := time.Now()
	got := n.Normalize(context.Background(), "https://example.com/slow/")
	if got != "https://example.com/slow" {
		t.Errorf("Expected pre-redirect URL, got %q", got)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Expected resolution to be bounded by the timeout")
	}
}

func TestNormalizerSkipsResolverForNonHTTP(t *testing.T) {
	resolver := &fakeResolver{ResolveFunc: func(ctx context.Context, rawURL string) (string, error) {
		return "https://example.com", nil
	}}
	n := NewNormalizer(resolver, time.Second)

	got := n.Normalize(context.Background(), "mailto:a@example.com")
	if got != "mailto:a@example.com" {
		t.Errorf("Expected mailto unchanged, got %q", got)
	}
	if resolver.calls != 0 {
		t.Errorf("Expected no resolver calls, got %d", resolver.calls)
	}
}

func TestNormalizerWithoutResolver(t *testing.T) {
	n := NewNormalizer(nil, 0)
	in := "https://tracking.tldrnewsletter.com/CL0/https:%2F%2Fwww.example.com%2Fpost/1/xyz"
	if got := n.Normalize(context.Background(), in); got != "https://example.com/post" {
		t.Errorf("Expected unwrapped canonical URL, got %q", got)
	}
}

func TestHTTPResolver(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	r := NewHTTPResolver(server.Client())

	got, err := r.Resolve(context.Background(), server.URL+"/start")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != server.URL+"/final" {
		t.Errorf("Expected %s/final, got %s", server.URL, got)
	}

	if _, err := r.Resolve(context.Background(), server.URL+"/missing"); err == nil {
		t.Error("Expected error for 404")
	}
}
