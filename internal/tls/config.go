package tls

// Config configures HTTPS for the API server.
type Config struct {
	Enabled      bool    `toml:"enabled" mapstructure:"enabled"`
	CertFile     string  `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string  `toml:"key_file" mapstructure:"key_file"`
	Dir          string  `toml:"dir" mapstructure:"dir"` // holds tls.crt and tls.key
	AutoGenerate bool    `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string  `toml:"min_version" mapstructure:"min_version"` // "1.2" or "1.3"
	MaxVersion   string  `toml:"max_version" mapstructure:"max_version"`
	AutoGen      AutoGen `toml:"auto_gen" mapstructure:"auto_gen"`
}

// AutoGen describes the self-signed certificate written when AutoGenerate
// is set and Dir has none.
type AutoGen struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

// Development returns a config that self-signs a localhost certificate
// into dir on first use.
func Development(dir string) Config {
	return Config{
		Enabled:      true,
		Dir:          dir,
		AutoGenerate: true,
		AutoGen: AutoGen{
			CommonName: "localhost",
			DNSNames:   []string{"localhost"},
			ValidDays:  365,
		},
	}
}
