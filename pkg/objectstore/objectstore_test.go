package objectstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/config"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key string
		ok  bool
	}{
		{"attachments/u1/abc/photo.png", true},
		{"", false},
		{"/etc/passwd", false},
		{"attachments/../secret", false},
		{strings.Repeat("a", maxKeyLen+1), false},
	}
	for _, tt := range tests {
		err := ValidateKey(tt.key)
		if tt.ok && err != nil {
			t.Fatalf("ValidateKey(%q) = %v", tt.key, err)
		}
		if !tt.ok && apperr.KindOf(err) != apperr.KindValidation {
			t.Fatalf("ValidateKey(%q) = %v, want validation error", tt.key, err)
		}
	}
}

// Presigning is computed locally once the region is fixed, so no server
// is needed.
func TestPresignUpload(t *testing.T) {
	s, err := New(config.MinIO{Endpoint: "http://localhost:9000", AccessKey: "k", SecretKey: "s", Bucket: "attachments"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	up, err := s.PresignUpload(context.Background(), "u1", "../../cat.png", time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.HasPrefix(up.Key, "attachments/u1/") || !strings.HasSuffix(up.Key, "/cat.png") {
		t.Fatalf("key = %q", up.Key)
	}
	if !strings.Contains(up.URL, "X-Amz-Signature=") {
		t.Fatalf("url = %q", up.URL)
	}

	get, err := s.PresignGet(context.Background(), up.Key, 0)
	if err != nil {
		t.Fatalf("presign get: %v", err)
	}
	if get.Host != "localhost:9000" {
		t.Fatalf("host = %q", get.Host)
	}
}
