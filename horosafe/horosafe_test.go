package horosafe

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateURL(t *testing.T) {
	cases := []struct {
		url     string
		wantErr error
	}{
		{"http://127.0.0.1:8080/", ErrSSRF},
		{"http://10.1.2.3/", ErrSSRF},
		{"http://192.168.0.10/pricing", ErrSSRF},
		{"http://[::1]/", ErrSSRF},
		{"http://169.254.169.254/latest/meta-data", ErrSSRF},
		{"ftp://example.com/", ErrUnsafeScheme},
		{"file:///etc/passwd", ErrUnsafeScheme},
		{"https://93.184.216.34/", nil},
	}
	for _, tc := range cases {
		err := ValidateURL(tc.url)
		if tc.wantErr == nil {
			if err != nil {
				t.Errorf("ValidateURL(%q): unexpected error %v", tc.url, err)
			}
			continue
		}
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("ValidateURL(%q) = %v, want %v", tc.url, err, tc.wantErr)
		}
	}
}

func TestValidateURL_NoHost(t *testing.T) {
	if err := ValidateURL("https:///path"); err == nil {
		t.Fatal("expected error for URL without host")
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("hello"), 5)
	if err != nil || string(data) != "hello" {
		t.Fatalf("at limit: %q, %v", data, err)
	}
	if _, err := LimitedReadAll(strings.NewReader("hello!"), 5); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("over limit: got %v, want ErrTooLarge", err)
	}
}
