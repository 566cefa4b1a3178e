package otel

import (
	"reflect"
	"testing"
)

func TestWithEnvDefaults(t *testing.T) {
	t.Run("explicit config wins", func(t *testing.T) {
		t.Setenv(envEndpoint, "http://ignored:4318")
		got := withEnvDefaults(Config{Endpoint: "collector:4318"})
		if got.Endpoint != "collector:4318" || got.Insecure {
			t.Fatalf("unexpected config %+v", got)
		}
	})
	t.Run("endpoint from environment", func(t *testing.T) {
		t.Setenv(envEndpoint, "http://collector:4318/")
		got := withEnvDefaults(Config{})
		if got.Endpoint != "collector:4318" {
			t.Fatalf("unexpected endpoint %q", got.Endpoint)
		}
		if !got.Insecure {
			t.Fatalf("http scheme must imply an insecure connection")
		}
	})
	t.Run("https scheme stays secure", func(t *testing.T) {
		got := withEnvDefaults(Config{Endpoint: "https://collector:4318"})
		if got.Endpoint != "collector:4318" || got.Insecure {
			t.Fatalf("unexpected config %+v", got)
		}
	})
	t.Run("local collector fallback", func(t *testing.T) {
		t.Setenv(envEndpoint, "")
		got := withEnvDefaults(Config{})
		if got.Endpoint != defaultEndpoint {
			t.Fatalf("unexpected endpoint %q", got.Endpoint)
		}
	})
	t.Run("headers from environment", func(t *testing.T) {
		t.Setenv(envHeaders, "x-api-key=secret, team=payments")
		got := withEnvDefaults(Config{})
		want := map[string]string{"x-api-key": "secret", "team": "payments"}
		if !reflect.DeepEqual(got.Headers, want) {
			t.Fatalf("unexpected headers %v", got.Headers)
		}
	})
}

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders("a=1,,=orphan, b = 2 ,broken")
	want := map[string]string{"a": "1", "b": "2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseHeaders = %v, want %v", got, want)
	}
}
