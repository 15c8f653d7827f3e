package urlnorm

import "testing"

func TestNormalizeStripsTrackingParamsAndDefaultPort(t *testing.T) {
	res := Normalize("https://Example.edu:443/jobs/biostats/?utm_source=feed&b=2&a=1", nil)

	want := "https://example.edu/jobs/biostats?a=1&b=2"
	if res.NormalizedURL != want {
		t.Fatalf("got %q, want %q", res.NormalizedURL, want)
	}
	if res.CanonicalHash == "" {
		t.Fatal("expected non-empty canonical hash")
	}
}

func TestNormalizeRootPathNeverStripped(t *testing.T) {
	res := Normalize("http://example.com/", nil)
	if res.NormalizedURL != "http://example.com/" {
		t.Fatalf("got %q", res.NormalizedURL)
	}
}

func TestNormalizeOverrideStripsWWWAndForcesHTTPS(t *testing.T) {
	overrides := []Override{{HostSuffix: "example.com", StripWWW: true, ForceHTTPS: true}}
	res := Normalize("http://www.example.com/path/", overrides)
	if res.NormalizedURL != "https://example.com/path" {
		t.Fatalf("got %q", res.NormalizedURL)
	}
}

func TestNormalizeOverrideStripQueryParamsAndPrefixes(t *testing.T) {
	overrides := []Override{{
		HostSuffix:         "example.com",
		StripQueryParams:   []string{"session"},
		StripQueryPrefixes: []string{"mc_"},
	}}
	res := Normalize("https://example.com/p?session=1&mc_eid=2&keep=3", overrides)
	if res.NormalizedURL != "https://example.com/p?keep=3" {
		t.Fatalf("got %q", res.NormalizedURL)
	}
}

func TestNormalizeRoundTripIsStable(t *testing.T) {
	first := Normalize("https://Example.org:443/a/b/?utm_campaign=x&z=1&a=2", nil)
	second := Normalize(first.NormalizedURL, nil)

	if first.NormalizedURL != second.NormalizedURL {
		t.Fatalf("round trip not stable: %q vs %q", first.NormalizedURL, second.NormalizedURL)
	}
	if first.CanonicalHash != second.CanonicalHash {
		t.Fatal("hash not stable across round trip")
	}
}

func TestNormalizeInvalidURL(t *testing.T) {
	res := Normalize("not a url", nil)
	if res.NormalizedURL != "" || res.CanonicalHash != "" {
		t.Fatalf("expected empty result for invalid url, got %+v", res)
	}
}

func TestNormalizePreservesDuplicateAndBlankParams(t *testing.T) {
	res := Normalize("https://example.com/p?a=1&a=2&b=", nil)
	want := "https://example.com/p?a=1&a=2&b="
	if res.NormalizedURL != want {
		t.Fatalf("got %q, want %q", res.NormalizedURL, want)
	}
}
