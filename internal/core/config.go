package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to the login
// server and to map servers.
type Config struct {
	// Hostname or IP address on which the server will listen for connections.
	Hostname string `mapstructure:"hostname"`
	// Address map servers advertise to players. Defaults to Hostname.
	ExternalAddress string `mapstructure:"external_address"`
	// Friendly server name sent in challenges and registrations.
	Name string `mapstructure:"name"`
	// Full path to file to which logs will be written. Blank will write to stdout.
	LogFilePath string `mapstructure:"log_file_path"`
	// Minimum level of a log required to be written. Options: debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`
	// Directory containing the .tmx map files.
	MapDir string `mapstructure:"map_dir"`

	Database    DatabaseConfig    `mapstructure:"database"`
	LoginServer LoginServerConfig `mapstructure:"login_server"`
	MapServer   MapServerConfig   `mapstructure:"map_server"`
	Debugging   DebuggingConfig   `mapstructure:"debugging"`
}

type DatabaseConfig struct {
	// Either sqlite or postgres.
	Engine string `mapstructure:"engine"`
	// Database file when using sqlite.
	Filename string `mapstructure:"filename"`
	// Hostname of the Postgres database instance.
	Host string `mapstructure:"host"`
	// Port on Host on which the Postgres instance is accepting connections.
	Port int `mapstructure:"port"`
	// Name of the database in Postgres.
	Name string `mapstructure:"name"`
	// Username and password of a user with full RW privileges to Name.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// Set to verify-full if the Postgres instance supports SSL.
	SSLMode string `mapstructure:"ssl_mode"`
}

type LoginServerConfig struct {
	// Port on which the login server will listen.
	Port int `mapstructure:"port"`
	// PEM files holding the login server's RSA key pair.
	PublicKeyFile  string `mapstructure:"public_key_file"`
	PrivateKeyFile string `mapstructure:"private_key_file"`
	// Generate a new key pair on startup, overwriting the files above.
	RegenerateKeys bool `mapstructure:"regenerate_keys"`
	KeyBits        int  `mapstructure:"key_bits"`
	// PBKDF2 iteration count for password hashes.
	HashIterations int `mapstructure:"hash_iterations"`
	// Password given to the bootstrap account created on an empty database.
	BootstrapPassword string `mapstructure:"bootstrap_password"`
	// How long a new connection may wait between handshake steps.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	// How long the remainder of a packet may take to arrive after its opcode.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// Interval between sweeps of finished connections.
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
	// Polling interval of the incoming and connected session loops.
	IncomingTick time.Duration `mapstructure:"incoming_tick"`
	SessionTick  time.Duration `mapstructure:"session_tick"`
	// Interval between liveness checks of registered map servers.
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
}

type MapServerConfig struct {
	// Port on which the map server accepts players.
	Port int `mapstructure:"port"`
	// Login server to register with.
	MasterAddress string `mapstructure:"master_address"`
	MasterPort    int    `mapstructure:"master_port"`
	// The login server's key pair, used to recognise the genuine login server.
	MasterPublicKeyFile  string `mapstructure:"master_public_key_file"`
	MasterPrivateKeyFile string `mapstructure:"master_private_key_file"`
	// Number of times registration is retried after a network failure.
	RegistrationRetries int `mapstructure:"registration_retries"`
	// How long to wait for each login server reply during registration.
	ReplyTimeout time.Duration `mapstructure:"reply_timeout"`
}

type DebuggingConfig struct {
	// Enable extra info-providing mechanisms for the server.
	Enabled bool `mapstructure:"enabled"`
	// Port on which the pprof and metrics server will be started if debug mode is enabled.
	PprofPort int `mapstructure:"pprof_port"`
	// Log packets to stdout.
	PacketLoggingEnabled bool `mapstructure:"packet_logging_enabled"`
	// Enable database-level query logging.
	DatabaseLoggingEnabled bool `mapstructure:"database_logging_enabled"`
}

const envVarPrefix = "PLAYPG"

// DefaultLoginPort is used when the login server is enabled without a port.
const DefaultLoginPort = 10419

var defaults = map[string]interface{}{
	"hostname":                            "0.0.0.0",
	"name":                                "PlayPG",
	"log_level":                           "info",
	"map_dir":                             "maps",
	"database.engine":                     "sqlite",
	"database.filename":                   "playpg.db",
	"database.host":                       "localhost",
	"database.port":                       5432,
	"database.name":                       "playpg",
	"database.username":                   "playpg",
	"database.ssl_mode":                   "disable",
	"login_server.port":                   DefaultLoginPort,
	"login_server.public_key_file":        "server.pub",
	"login_server.private_key_file":       "server.pem",
	"login_server.key_bits":               2048,
	"login_server.hash_iterations":        32000,
	"login_server.bootstrap_password":     "superuser",
	"login_server.handshake_timeout":      "10s",
	"login_server.read_timeout":           "3s",
	"login_server.purge_interval":         "5s",
	"login_server.incoming_tick":          "50ms",
	"login_server.session_tick":           "500ms",
	"login_server.health_check_interval":  "5s",
	"map_server.port":                     10420,
	"map_server.master_address":           "127.0.0.1",
	"map_server.master_port":              DefaultLoginPort,
	"map_server.master_public_key_file":   "server.pub",
	"map_server.master_private_key_file":  "server.pem",
	"map_server.registration_retries":     5,
	"map_server.reply_timeout":            "5s",
	"debugging.pprof_port":                4000,
}

// LoadConfig reads configFile (if non-empty) on top of the defaults, then applies
// PLAYPG_ environment variables and finally any flags in bindings that were set on
// the command line. bindings maps config keys such as "database.host" to flags.
func LoadConfig(configFile string, bindings map[string]*pflag.Flag) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()
	// This allows us to set nested yaml config options through environment
	// variables. For example, database.host can be set using: <envVarPrefix>_DATABASE_HOST
	for _, k := range v.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	for key, flag := range bindings {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("error binding flag %s: %w", flag.Name, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config object: %w", err)
	}
	if config.ExternalAddress == "" {
		config.ExternalAddress = config.Hostname
	}
	return config, nil
}

// Mode selects which server a process runs.
type Mode int

const (
	LoginServerMode Mode = iota
	MapServerMode
)

func (m Mode) String() string {
	if m == MapServerMode {
		return "map"
	}
	return "login"
}

// Validate checks the settings the chosen server depends on so that bad
// configurations fail before any socket is opened.
func (c *Config) Validate(mode Mode) error {
	var errs []error

	if c.MapDir == "" {
		errs = append(errs, errors.New("map_dir is required"))
	}

	switch mode {
	case LoginServerMode:
		errs = append(errs, c.validateDatabase())
		errs = append(errs, checkPort("login_server.port", c.LoginServer.Port))
		if c.LoginServer.HashIterations < 1 {
			errs = append(errs, errors.New("login_server.hash_iterations must be positive"))
		}
		for key, d := range map[string]time.Duration{
			"login_server.incoming_tick":         c.LoginServer.IncomingTick,
			"login_server.session_tick":          c.LoginServer.SessionTick,
			"login_server.purge_interval":        c.LoginServer.PurgeInterval,
			"login_server.health_check_interval": c.LoginServer.HealthCheckInterval,
			"login_server.handshake_timeout":     c.LoginServer.HandshakeTimeout,
			"login_server.read_timeout":          c.LoginServer.ReadTimeout,
		} {
			if d <= 0 {
				errs = append(errs, fmt.Errorf("%s must be positive", key))
			}
		}
	case MapServerMode:
		errs = append(errs, checkPort("map_server.port", c.MapServer.Port))
		errs = append(errs, checkPort("map_server.master_port", c.MapServer.MasterPort))
		if c.MapServer.MasterAddress == "" {
			errs = append(errs, errors.New("map_server.master_address is required"))
		}
	}

	return errors.Join(errs...)
}

// Only the login server opens the database.
func (c *Config) validateDatabase() error {
	switch strings.ToLower(c.Database.Engine) {
	case "sqlite":
		if c.Database.Filename == "" {
			return errors.New("database.filename is required for sqlite")
		}
		return nil
	case "postgres":
		if c.Database.Password == "" {
			return errors.New("database.password is required for postgres")
		}
		return checkPort("database.port", c.Database.Port)
	default:
		return fmt.Errorf("unsupported database engine %q", c.Database.Engine)
	}
}

func checkPort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", key, port)
	}
	return nil
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// DatabaseURL returns a database URL generated from the provided config values.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		databaseURITemplate,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Username,
		c.Database.Password,
		c.Database.SSLMode,
	)
}

// DatabaseDSN returns the data source for the configured engine.
func (c *Config) DatabaseDSN() string {
	if strings.ToLower(c.Database.Engine) == "sqlite" {
		return filepath.Clean(c.Database.Filename)
	}
	return c.DatabaseURL()
}

// LoginAddress is the address the login server listens on.
func (c *Config) LoginAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.LoginServer.Port)
}

// MapServerAddress is the address a map server listens for players on.
func (c *Config) MapServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.MapServer.Port)
}

// MasterAddress is the address of the login server a map server registers with.
func (c *Config) MasterAddress() string {
	return fmt.Sprintf("%s:%d", c.MapServer.MasterAddress, c.MapServer.MasterPort)
}
