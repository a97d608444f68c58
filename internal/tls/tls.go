package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

// parseTLSVersion parses TLS version string and returns the corresponding constant
func parseTLSVersion(ver string) (uint16, bool, error) {
	switch strings.ToLower(ver) {
	case "", "default":
		return 0, false, nil
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true, nil
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true, nil
	default:
		return 0, false, fmt.Errorf("unsupported TLS version %q", ver)
	}
}

// resolveVersions defaults both bounds to TLS 1.3.
func resolveVersions(cfg Config) (min, max uint16, err error) {
	min, max = tls.VersionTLS13, tls.VersionTLS13
	if v, ok, err := parseTLSVersion(cfg.MinVersion); err != nil {
		return 0, 0, fmt.Errorf("min_version: %w", err)
	} else if ok {
		min = v
	}
	if v, ok, err := parseTLSVersion(cfg.MaxVersion); err != nil {
		return 0, 0, fmt.Errorf("max_version: %w", err)
	} else if ok {
		max = v
	}
	if min > max {
		return 0, 0, errors.New("min_version is above max_version")
	}
	return min, max, nil
}

// safeReadFile reads file content safely within base directory
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// getCertificateFunc reloads the key pair on every handshake so rotated
// files are picked up without a restart.
func getCertificateFunc(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		readCert, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		readKey, err := safeReadFile(filepath.Dir(keyFile), keyFile)
		if err != nil {
			return nil, err
		}
		certificate, err := tls.X509KeyPair(readCert, readKey)
		return &certificate, err
	}
}

// Setup returns the server TLS configuration, or nil when TLS is disabled.
// Explicit cert/key files win over Dir.
func Setup(cfg Config) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	minVer, maxVer, err := resolveVersions(cfg)
	if err != nil {
		return nil, err
	}

	certPath, keyPath := cfg.CertFile, cfg.KeyFile
	switch {
	case certPath != "" && keyPath != "":
	case cfg.Dir != "":
		certPath = filepath.Join(cfg.Dir, tlsCrt)
		keyPath = filepath.Join(cfg.Dir, tlsKey)
		if cfg.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := generateCertificate(cfg.AutoGen, cfg.Dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	default:
		return nil, errors.New("TLS enabled but no valid certificate configuration found")
	}
	if !certificatesExist(certPath, keyPath) {
		return nil, fmt.Errorf("certificate %s or key %s not found", certPath, keyPath)
	}

	// #nosec G402 min version is configurable down to 1.2
	return &tls.Config{
		GetCertificate: getCertificateFunc(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}, nil
}

// certificatesExist checks if both certificate files exist
func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func getOrDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func getOrDefaultSlice(value, defaultValue []string) []string {
	if len(value) == 0 {
		return defaultValue
	}
	return value
}

// generateCertificate writes a self-signed certificate into destDir
func generateCertificate(ag AutoGen, destDir string) error {
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	validDays := ag.ValidDays
	if validDays <= 0 {
		validDays = 365
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   getOrDefault(ag.CommonName, "localhost"),
		Organization: getOrDefault(ag.Organization, "taskexec"),
		DNSNames:     getOrDefaultSlice(ag.DNSNames, []string{"localhost"}),
		IPAddresses:  getOrDefaultSlice(ag.IPAddresses, []string{"127.0.0.1", "::1"}),
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		CertPath:     filepath.Join(destDir, tlsCrt),
		KeyPath:      filepath.Join(destDir, tlsKey),
		CACertPath:   filepath.Join(destDir, tlsCaCrt),
	})
}
