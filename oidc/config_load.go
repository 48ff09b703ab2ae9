package oidc

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix is prepended to every configuration key when reading the
// environment.
const DefaultEnvPrefix = "OKTA_"

// Configuration keys, as read from the environment (with a prefix).
const (
	EnvClientID                   = "CLIENT_ID"
	EnvClientSecret               = "CLIENT_SECRET"
	EnvAuthorizationEndpoint      = "AUTHORIZATION_ENDPOINT"
	EnvTokenEndpoint              = "TOKEN_ENDPOINT"
	EnvUserinfoEndpoint           = "USERINFO_ENDPOINT"
	EnvLogoutEndpoint             = "LOGOUT_ENDPOINT"
	EnvRedirectURI                = "REDIRECT_URI"
	EnvPostLogoutRedirectURI      = "POST_LOGOUT_REDIRECT_URI"
	EnvDebug                      = "DEBUG"
	EnvIssuer                     = "ISSUER"
	EnvProviderCA                 = "PROVIDER_CA"
	EnvScope                      = "SCOPE"
	EnvSessionTTL                 = "SESSION_TTL"
	EnvURLPrefix                  = "URL_PREFIX"
	EnvCallbackPath               = "CALLBACK_PATH"
	EnvAfterAuthenticationHandler = "AFTER_AUTHENTICATION_HANDLER"
	EnvSupportedSigningAlgs       = "SUPPORTED_SIGNING_ALGS"
)

// LoadConfigFromEnv reads a Config from environment variables named
// prefix+key (see the Env* constants). When prefix is empty DefaultEnvPrefix
// is used. Supported options: WithEnvFile
func LoadConfigFromEnv(prefix string, opt ...Option) (*Config, error) {
	const op = "LoadConfigFromEnv"
	opts := getLoadOpts(opt...)
	if opts.withEnvFile != "" {
		// existing environment variables take precedence over the file
		if err := godotenv.Load(opts.withEnvFile); err != nil {
			return nil, fmt.Errorf("%s: unable to load env file %s: %w", op, opts.withEnvFile, err)
		}
	}
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	get := func(k string) string { return strings.TrimSpace(os.Getenv(prefix + k)) }

	var result *multierror.Error
	c := &Config{
		ClientID:                   get(EnvClientID),
		ClientSecret:               ClientSecret(get(EnvClientSecret)),
		AuthorizationEndpoint:      get(EnvAuthorizationEndpoint),
		TokenEndpoint:              get(EnvTokenEndpoint),
		UserinfoEndpoint:           get(EnvUserinfoEndpoint),
		LogoutEndpoint:             get(EnvLogoutEndpoint),
		RedirectURL:                get(EnvRedirectURI),
		PostLogoutRedirectURL:      get(EnvPostLogoutRedirectURI),
		Issuer:                     get(EnvIssuer),
		ProviderCA:                 os.Getenv(prefix + EnvProviderCA),
		Scope:                      get(EnvScope),
		URLPrefix:                  get(EnvURLPrefix),
		CallbackPath:               get(EnvCallbackPath),
		AfterAuthenticationHandler: get(EnvAfterAuthenticationHandler),
	}
	if v := get(EnvDebug); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s%s %q is not a boolean: %w", prefix, EnvDebug, v, ErrInvalidParameter))
		}
		c.Debug = debug
	}
	if v := get(EnvSessionTTL); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s%s %q is not a duration: %w", prefix, EnvSessionTTL, v, ErrInvalidParameter))
		}
		c.SessionTTL = ttl
	}
	if v := get(EnvSupportedSigningAlgs); v != "" {
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				c.SupportedSigningAlgs = append(c.SupportedSigningAlgs, Alg(a))
			}
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidConfig, err)
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// LoadConfigFile reads a yaml Config from path. Environment variables
// referenced as $VAR or ${VAR} in the file are expanded before decoding.
func LoadConfigFile(path string) (*Config, error) {
	const op = "LoadConfigFile"
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: read file: %w", op, err)
	}
	expanded := os.ExpandEnv(string(content))

	c := new(Config)
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return nil, fmt.Errorf("%s: decode config file: %w: %w", op, ErrInvalidConfig, err)
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// loadOptions is the set of available options for loading a Config
type loadOptions struct {
	withEnvFile string
}

func loadDefaults() loadOptions {
	return loadOptions{}
}

func getLoadOpts(opt ...Option) loadOptions {
	opts := loadDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithEnvFile provides an optional dotenv file loaded before reading the
// environment
func WithEnvFile(path string) Option {
	return func(o interface{}) {
		if o, ok := o.(*loadOptions); ok {
			o.withEnvFile = path
		}
	}
}
