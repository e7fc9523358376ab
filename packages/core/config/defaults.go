package config

const (
	DefaultEnvironmentName = "dev"
	DefaultDatabaseName    = "parity.db"
)

// DefaultConfig returns a configuration with default values. The dev
// environment compares the public sunnah.com API with a local build.
func DefaultConfig() *Config {
	return &Config{
		DefaultEnvironment: DefaultEnvironmentName,
		Environments: map[string]Environment{
			DefaultEnvironmentName: {
				APIImpl1: Target{
					BaseURL: "https://api.sunnah.com/v1",
					APIKey:  "${API1_KEY}",
				},
				APIImpl2: Target{
					BaseURL: "http://localhost:8084/v1",
					APIKey:  "${API2_KEY:-your-api-key-2}",
				},
			},
		},
		ConnectTimeout: 5000,
		ReadTimeout:    5000,
		Retries:        3,
		InitialBackoff: 1000,
		MaxBackoff:     60000,
		BackoffFactor:  2,
		RequestDelay:   500,
		Concurrency:    5,
		DefaultLimit:   50,
		SampleSize:     5,
		OutputDir:      "output",
	}
}

// IsDefault returns true if the config matches defaults.
func (c *Config) IsDefault() bool {
	d := DefaultConfig()
	return c.DefaultEnvironment == d.DefaultEnvironment &&
		len(c.Environments) == 1 && c.Environments[DefaultEnvironmentName] == d.Environments[DefaultEnvironmentName] &&
		c.ConnectTimeout == d.ConnectTimeout &&
		c.ReadTimeout == d.ReadTimeout &&
		c.Retries == d.Retries &&
		c.InitialBackoff == d.InitialBackoff &&
		c.MaxBackoff == d.MaxBackoff &&
		c.BackoffFactor == d.BackoffFactor &&
		c.RequestDelay == d.RequestDelay &&
		c.Concurrency == d.Concurrency &&
		len(c.Headers) == 0 &&
		c.GetValidateSSL() &&
		c.DefaultLimit == d.DefaultLimit &&
		c.GetTestAllPages() &&
		c.SampleSize == d.SampleSize &&
		c.OutputDir == d.OutputDir &&
		c.Database == d.Database &&
		!c.GetSaveResponses() &&
		!c.GetBail() &&
		!c.GetNoColor()
}
