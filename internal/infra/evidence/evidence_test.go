package evidence

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"heirloom/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestMemoryStore_PutOnce(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	if err := store.Put(ctx, "claims/c1/f1", "application/pdf", strings.NewReader("scan"), 4); err != nil {
		t.Fatalf("put: %v", err)
	}
	obj, ok := store.Get("claims/c1/f1")
	if !ok || string(obj.Body) != "scan" || obj.MimeType != "application/pdf" {
		t.Fatalf("unexpected object %+v", obj)
	}
	err := store.Put(ctx, "claims/c1/f1", "application/pdf", strings.NewReader("other"), 5)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on overwrite, got %v", err)
	}
	if err := store.Put(ctx, "claims/c1/f2", "text/plain", strings.NewReader("abc"), 10); err == nil {
		t.Fatalf("expected size mismatch error")
	}
}

type fakeS3 struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	if in.Body != nil {
		f.body, _ = io.ReadAll(in.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store_PutSendsEncryptedCreateOnly(t *testing.T) {
	fake := &fakeS3{}
	store, err := NewS3(fake, "evidence-bucket")
	if err != nil {
		t.Fatalf("new s3: %v", err)
	}
	body := []byte("death certificate")
	if err := store.Put(context.Background(), "claims/c1/f1", "application/pdf", bytes.NewReader(body), int64(len(body))); err != nil {
		t.Fatalf("put: %v", err)
	}
	if aws.ToString(fake.in.Bucket) != "evidence-bucket" || aws.ToString(fake.in.Key) != "claims/c1/f1" {
		t.Fatalf("wrong destination %s/%s", aws.ToString(fake.in.Bucket), aws.ToString(fake.in.Key))
	}
	if fake.in.ServerSideEncryption != types.ServerSideEncryptionAes256 {
		t.Fatalf("expected SSE, got %q", fake.in.ServerSideEncryption)
	}
	if aws.ToString(fake.in.IfNoneMatch) != "*" {
		t.Fatalf("expected create-only put")
	}
	if aws.ToInt64(fake.in.ContentLength) != int64(len(body)) || !bytes.Equal(fake.body, body) {
		t.Fatalf("body not forwarded")
	}

	fake.err = errors.New("access denied")
	if err := store.Put(context.Background(), "claims/c1/f2", "text/plain", bytes.NewReader(nil), 0); err == nil {
		t.Fatalf("expected put error to surface")
	}
}

func TestNewS3_RequiresBucket(t *testing.T) {
	if _, err := NewS3(&fakeS3{}, " "); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}
