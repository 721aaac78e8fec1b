package awsclient

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
)

// isolate keeps the developer's ~/.aws and AWS_* env out of the test.
func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	for _, k := range []string{
		"AWS_PROFILE", "AWS_REGION", "AWS_DEFAULT_REGION",
		"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_SESSION_TOKEN",
		"AWS_ENDPOINT_URL", "AWS_ENDPOINT_URL_S3", "AWS_ENDPOINT_URL_CLOUDFRONT", "AWS_ENDPOINT_URL_SSM",
		"AWS_CA_BUNDLE",
	} {
		// Setenv registers the restore; Unsetenv makes the variable absent rather than empty
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestNew_StaticCredentialsAndRegion(t *testing.T) {
	isolate(t)
	ctx := context.Background()

	f, err := New(ctx, Options{
		Region:          "eu-west-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		SessionToken:    "token",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg := f.Config()
	if cfg.Region != "eu-west-1" {
		t.Errorf("Region = %q, want eu-west-1", cfg.Region)
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if creds.AccessKeyID != "AKIDEXAMPLE" || creds.SecretAccessKey != "secret" || creds.SessionToken != "token" {
		t.Errorf("credentials = %+v", creds)
	}
	if cfg.ClientLogMode != 0 {
		t.Errorf("ClientLogMode = %v, want 0 without Debug", cfg.ClientLogMode)
	}
	if cfg.Logger == nil {
		t.Error("Logger not set")
	}
}

func TestNew_Debug(t *testing.T) {
	isolate(t)
	f, err := New(context.Background(), Options{Region: "us-east-1", Debug: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mode := f.Config().ClientLogMode
	if !mode.IsRetries() || !mode.IsRequest() {
		t.Errorf("ClientLogMode = %v, want retries and requests", mode)
	}
}

func TestS3_CustomEndpoint(t *testing.T) {
	isolate(t)
	f, err := New(context.Background(), Options{
		Region:    "us-east-1",
		Endpoint:  "http://localhost:9000",
		PathStyle: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	o := f.S3().Options()
	if got := aws.ToString(o.BaseEndpoint); got != "http://localhost:9000" {
		t.Errorf("BaseEndpoint = %q", got)
	}
	if !o.UsePathStyle {
		t.Error("UsePathStyle = false, want true")
	}

	// the custom endpoint is for S3 only
	if ep := f.CloudFront().Options().BaseEndpoint; ep != nil {
		t.Errorf("CloudFront BaseEndpoint = %q, want unset", *ep)
	}
	if ep := f.SSM().Options().BaseEndpoint; ep != nil {
		t.Errorf("SSM BaseEndpoint = %q, want unset", *ep)
	}
}

func TestS3_DefaultEndpoint(t *testing.T) {
	isolate(t)
	f, err := New(context.Background(), Options{Region: "us-east-1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o := f.S3().Options()
	if o.BaseEndpoint != nil {
		t.Errorf("BaseEndpoint = %q, want unset", *o.BaseEndpoint)
	}
	if o.UsePathStyle {
		t.Error("UsePathStyle = true, want false")
	}
}

func TestNew_CustomHTTPClient(t *testing.T) {
	isolate(t)
	hc := &http.Client{}
	f, err := New(context.Background(), Options{Region: "us-east-1", HTTPClient: hc})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if f.Config().HTTPClient != hc {
		t.Error("HTTPClient was not used")
	}
}

func TestNew_CABundle(t *testing.T) {
	isolate(t)

	bundle := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(bundle, selfSignedPEM(t), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AWS_CA_BUNDLE", bundle)

	f, err := New(context.Background(), Options{Region: "us-east-1", AccessKeyID: "AK", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("New with AWS_CA_BUNDLE: %v", err)
	}
	if _, ok := f.Config().HTTPClient.(*awshttp.BuildableClient); !ok {
		t.Fatalf("HTTPClient = %T, want *http.BuildableClient", f.Config().HTTPClient)
	}
}

func TestNew_TracingMiddleware(t *testing.T) {
	isolate(t)
	f, err := New(context.Background(), Options{Region: "us-east-1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(f.Config().APIOptions) == 0 {
		t.Fatal("APIOptions empty, want tracing middleware registered")
	}
}

func selfSignedPEM(t *testing.T) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "sitepublish test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}
