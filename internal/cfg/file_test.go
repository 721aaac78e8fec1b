package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func wantFileConfig() *FileConfig {
	return &FileConfig{
		Redirects: map[string]string{
			"old/about.html": "/about/",
			"blog":           "https://blog.example.com/",
		},
		GzipTypes: []string{"text/html", "image/svg+xml"},
		Exclude:   []string{"*.map"},
		Write: WriteConfig{
			ACL:          "private",
			CacheControl: "max-age=300",
			StorageClass: "STANDARD_IA",
			Metadata:     map[string]string{"deployed-by": "ci"},
		},
	}
}

func TestLoadFile_TOML(t *testing.T) {
	p := writeConfig(t, "site.toml", `
gzip_types = ["text/html", "image/svg+xml"]
exclude = ["*.map"]

[redirects]
"old/about.html" = "/about/"
blog = "https://blog.example.com/"

[write]
acl = "private"
cache_control = "max-age=300"
storage_class = "STANDARD_IA"

[write.metadata]
deployed-by = "ci"
`)
	got, err := LoadFile(p)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if diff := cmp.Diff(wantFileConfig(), got); diff != "" {
		t.Fatalf("LoadFile mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFile_YAML(t *testing.T) {
	p := writeConfig(t, "site.yml", `
redirects:
  old/about.html: /about/
  blog: https://blog.example.com/
gzip_types: [text/html, image/svg+xml]
exclude: ["*.map"]
write:
  acl: private
  cache_control: max-age=300
  storage_class: STANDARD_IA
  metadata:
    deployed-by: ci
`)
	got, err := LoadFile(p)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if diff := cmp.Diff(wantFileConfig(), got); diff != "" {
		t.Fatalf("LoadFile mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFile_EmptyYAML(t *testing.T) {
	got, err := LoadFile(writeConfig(t, "empty.yaml", ""))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if diff := cmp.Diff(&FileConfig{}, got); diff != "" {
		t.Fatalf("empty config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{"unknown toml key", "a.toml", "gzip_type = [\"text/html\"]\n", "unknown keys"},
		{"unknown yaml key", "a.yaml", "exclud: [x]\n", "exclud"},
		{"bad extension", "a.json", "{}", "unsupported extension"},
		{"bad acl", "a.toml", "[write]\nacl = \"everyone\"\n", "write.acl"},
		{"bad storage class", "a.yaml", "write:\n  storage_class: COLD\n", "write.storage_class"},
		{"kms key without kms", "a.yaml", "write:\n  sse_kms_key_id: abc\n", "sse_kms_key_id requires"},
		{"leading slash redirect", "a.toml", "[redirects]\n\"/x\" = \"/y\"\n", "without a leading slash"},
		{"empty redirect target", "a.toml", "[redirects]\nx = \"\"\n", "empty target"},
		{"bad gzip type", "a.toml", "gzip_types = [\"html\"]\n", "not a media type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.file, tt.body))
			wantErrContains(t, err, tt.want)
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	wantErrContains(t, err, "read config file")
}
