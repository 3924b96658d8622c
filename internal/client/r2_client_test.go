package client

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/veloverlay/api/internal/config"
)

func TestNewR2ClientUnconfigured(t *testing.T) {
	c, err := NewR2Client(context.Background(), &config.R2Config{Prefix: "renders"})
	if err != nil || c != nil {
		t.Fatalf("got %v, %v; want nil client", c, err)
	}
	if c.IsConfigured() {
		t.Fatal("nil client reports configured")
	}

	if _, err := NewR2Client(context.Background(), &config.R2Config{AccountID: "acc"}); err == nil {
		t.Fatal("incomplete config accepted")
	}
}

func TestR2Keys(t *testing.T) {
	c, err := NewR2Client(context.Background(), &config.R2Config{
		AccountID:       "acc",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		BucketName:      "rides",
		PublicURL:       "https://cdn.example.com/",
		Prefix:          "/renders/",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsConfigured() {
		t.Fatal("client not configured")
	}

	key := c.Key("job-1", "/tmp/out/ride_overlay.mp4")
	if key != "renders/job-1/ride_overlay.mp4" {
		t.Fatalf("key = %q", key)
	}
	if got := c.GetPublicURL(key); got != "https://cdn.example.com/renders/job-1/ride_overlay.mp4" {
		t.Fatalf("public url = %q", got)
	}

	c.publicURL = ""
	if got := c.GetPublicURL("a.mp4"); got != "" {
		t.Fatalf("private bucket public url = %q", got)
	}
}

func TestR2SignedURL(t *testing.T) {
	c, err := NewR2Client(context.Background(), &config.R2Config{
		AccountID:       "acc",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		BucketName:      "rides",
	})
	if err != nil {
		t.Fatal(err)
	}

	url, err := c.GetSignedURL(context.Background(), "renders/job-1/out.mp4", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"acc.r2.cloudflarestorage.com", "out.mp4", "X-Amz-Expires=3600", "X-Amz-Signature="} {
		if !strings.Contains(url, want) {
			t.Errorf("signed url %q lacks %q", url, want)
		}
	}
}
