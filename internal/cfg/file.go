package cfg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/sitepublish/internal/xerrors"
)

// FileConfig is the structured part of the configuration that does not fit
// on a command line. It is loaded from -config.
type FileConfig struct {
	// Redirects maps a bucket key to its website redirect target.
	Redirects map[string]string `toml:"redirects" yaml:"redirects"`
	// GzipTypes replaces the default gzip-eligible media types when non-empty.
	GzipTypes []string    `toml:"gzip_types" yaml:"gzip_types"`
	Exclude   []string    `toml:"exclude" yaml:"exclude"`
	Write     WriteConfig `toml:"write" yaml:"write"`
}

// WriteConfig holds per-object write options applied to every upload.
// Empty fields leave the computed defaults in place.
type WriteConfig struct {
	ACL                  string            `toml:"acl" yaml:"acl"`
	CacheControl         string            `toml:"cache_control" yaml:"cache_control"`
	StorageClass         string            `toml:"storage_class" yaml:"storage_class"`
	ServerSideEncryption string            `toml:"server_side_encryption" yaml:"server_side_encryption"`
	SSEKMSKeyID          string            `toml:"sse_kms_key_id" yaml:"sse_kms_key_id"`
	ContentDisposition   string            `toml:"content_disposition" yaml:"content_disposition"`
	Metadata             map[string]string `toml:"metadata" yaml:"metadata"`
}

// LoadFile reads a TOML (.toml) or YAML (.yaml, .yml) config file. Unknown
// keys are rejected so typos surface instead of being silently ignored.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read config file %s", path)
	}

	var fc FileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, xerrors.Wrapf(err, "parse toml %s", path)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, xerrors.Newf("config file %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// an empty document decodes to io.EOF; treat it as an empty config
		if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
			return nil, xerrors.Wrapf(err, "parse yaml %s", path)
		}
	default:
		return nil, xerrors.Newf("config file %s: unsupported extension %q (want .toml, .yaml or .yml)", path, ext)
	}

	if err := fc.Validate(); err != nil {
		return nil, xerrors.Wrapf(err, "config file %s", path)
	}
	return &fc, nil
}

// Validate checks enum-valued write options and redirect entries.
func (fc *FileConfig) Validate() error {
	var errs []error

	for k, v := range fc.Redirects {
		if k == "" || strings.HasPrefix(k, "/") {
			errs = append(errs, fmt.Errorf("redirect key %q must be a bucket key without a leading slash", k))
		}
		if v == "" {
			errs = append(errs, fmt.Errorf("redirect %q has an empty target", k))
		}
	}
	for _, t := range fc.GzipTypes {
		if strings.TrimSpace(t) == "" || !strings.Contains(t, "/") {
			errs = append(errs, fmt.Errorf("gzip type %q is not a media type", t))
		}
	}

	w := fc.Write
	if w.ACL != "" && !validACL(w.ACL) {
		errs = append(errs, fmt.Errorf("write.acl %q is not a canned ACL", w.ACL))
	}
	if w.StorageClass != "" && !oneOf(w.StorageClass, s3types.StorageClass("").Values()) {
		errs = append(errs, fmt.Errorf("write.storage_class %q is not a storage class", w.StorageClass))
	}
	if w.ServerSideEncryption != "" && !oneOf(w.ServerSideEncryption, s3types.ServerSideEncryption("").Values()) {
		errs = append(errs, fmt.Errorf("write.server_side_encryption %q is not supported", w.ServerSideEncryption))
	}
	if w.SSEKMSKeyID != "" && w.ServerSideEncryption != string(s3types.ServerSideEncryptionAwsKms) &&
		w.ServerSideEncryption != string(s3types.ServerSideEncryptionAwsKmsDsse) {
		errs = append(errs, fmt.Errorf("write.sse_kms_key_id requires server_side_encryption aws:kms or aws:kms:dsse"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func oneOf[T ~string](v string, values []T) bool {
	for _, x := range values {
		if string(x) == v {
			return true
		}
	}
	return false
}
