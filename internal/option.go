package internal

// application holds the dependencies assembled before Run or RunMCP starts.
type application struct {
	config *Config
}

// Option configures the application at startup.
type Option func(*application)

// WithConfig supplies the parsed configuration. Required.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}
