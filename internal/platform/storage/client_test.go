package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/agrilink/api/internal/platform/auth"
)

type fakeSigner struct {
	email    string
	payloads [][]byte
	err      error
}

func (f *fakeSigner) Email() string {
	return f.email
}

func (f *fakeSigner) SignBytes(_ context.Context, payload []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	return []byte("signed"), nil
}

func TestSignedUploadURL(t *testing.T) {
	signer := &fakeSigner{email: "uploads@agrilink.iam.gserviceaccount.com"}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client, err := NewClient(signer, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}

	spec := UploadSpec{
		ContentType: "image/png",
		ContentMD5:  "xN0dYbCPv0CM0k9d1u8G7g==",
		MaxSize:     1 << 20,
		ExpiresIn:   10 * time.Minute,
	}

	res, err := client.SignedUploadURL(context.Background(), "agrilink-images", "products/prd_1/images/img_1/photo.png", spec)
	if err != nil {
		t.Fatalf("SignedUploadURL returned error: %v", err)
	}

	if res.Method != httpMethodPut {
		t.Fatalf("expected method PUT, got %s", res.Method)
	}
	if !res.ExpiresAt.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry: %v", res.ExpiresAt)
	}
	if res.Headers["Content-Type"] != "image/png" {
		t.Fatalf("expected Content-Type header, got %v", res.Headers)
	}
	if res.Headers["Content-MD5"] != "xN0dYbCPv0CM0k9d1u8G7g==" {
		t.Fatalf("expected Content-MD5 header, got %v", res.Headers)
	}
	if res.Headers["x-goog-content-length-range"] != "0,1048576" {
		t.Fatalf("expected content length header, got %v", res.Headers)
	}

	parsed, err := url.Parse(res.URL)
	if err != nil {
		t.Fatalf("failed to parse signed URL: %v", err)
	}
	if !strings.Contains(parsed.RawQuery, "X-Goog-Signature=") {
		t.Fatalf("expected signature in query: %s", parsed.RawQuery)
	}
	if len(signer.payloads) == 0 {
		t.Fatalf("expected signer to be invoked")
	}
}

func TestSignedUploadURLRejectsContentType(t *testing.T) {
	signer := &fakeSigner{email: "uploads@agrilink.iam.gserviceaccount.com"}
	client, err := NewClient(signer)
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}

	_, err = client.SignedUploadURL(context.Background(), "bucket", "object", UploadSpec{ContentType: "application/pdf"})
	if !errors.Is(err, errContentTypeDenied) {
		t.Fatalf("expected errContentTypeDenied, got %v", err)
	}
}

func TestSignedUploadURLRejectsBadMD5(t *testing.T) {
	signer := &fakeSigner{email: "uploads@agrilink.iam.gserviceaccount.com"}
	client, err := NewClient(signer)
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}

	spec := UploadSpec{ContentType: "image/png", ContentMD5: "not base64!!"}
	_, err = client.SignedUploadURL(context.Background(), "bucket", "object", spec)
	if !errors.Is(err, errMD5Invalid) {
		t.Fatalf("expected errMD5Invalid, got %v", err)
	}
}

func TestSignedDownloadURLExpiryTooLong(t *testing.T) {
	signer := &fakeSigner{email: "uploads@agrilink.iam.gserviceaccount.com"}
	client, err := NewClient(signer)
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}

	_, err = client.SignedDownloadURL(context.Background(), "bucket", "object", DownloadSpec{ExpiresIn: time.Hour})
	if !errors.Is(err, errExpiryTooLong) {
		t.Fatalf("expected errExpiryTooLong, got %v", err)
	}
}

func TestAuthorizeAccess(t *testing.T) {
	if err := AuthorizeAccess(nil, "owner", true); err != nil {
		t.Fatalf("anonymous access should be allowed: %v", err)
	}
	if err := AuthorizeAccess(nil, "owner", false); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	owner := &auth.Identity{UID: "owner", Roles: []string{auth.RoleFarmer}}
	if err := AuthorizeAccess(owner, "owner", false); err != nil {
		t.Fatalf("owner should be allowed: %v", err)
	}
	other := &auth.Identity{UID: "other", Roles: []string{auth.RoleCustomer}}
	if err := AuthorizeAccess(other, "owner", false); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	admin := &auth.Identity{UID: "adm", Roles: []string{auth.RoleAdmin}}
	if err := AuthorizeAccess(admin, "owner", false); err != nil {
		t.Fatalf("admin should be allowed: %v", err)
	}
}

func TestProductImagePath(t *testing.T) {
	path, err := ProductImagePath("prd_1", "img_1", "photo.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "products/prd_1/images/img_1/photo.png" {
		t.Fatalf("unexpected path: %s", path)
	}

	if _, err := ProductImagePath("prd_1", "img_1", "../escape.png"); err == nil {
		t.Fatalf("expected traversal rejection")
	}
	if _, err := ProductImagePath("", "img_1", "photo.png"); err == nil {
		t.Fatalf("expected missing productID rejection")
	}
}
