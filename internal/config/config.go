package config

import (
	"flag"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env      string `yaml:"env" env-default:"local" env-description:"Environment" env-choices:"local,dev,prod"`
	ApiPort  int    `yaml:"api_port" env-default:"8080"`
	ApiHost  string `yaml:"api_host" env-default:"localhost"`
	Postgres `yaml:"postgres"`
	JWT      JWT    `yaml:"jwt"`
	Redis    Redis  `yaml:"redis"`
	Ledger   Ledger `yaml:"ledger"`
	HTTP     HTTP   `yaml:"http"`
}

type Postgres struct {
	Host string `yaml:"host" env-default:"localhost"`
	Port string `yaml:"port" env-default:"5433"`
	User string `yaml:"user" env-default:"test"`
	Pass string `yaml:"pass" env-default:"12345"`
	Db   string `yaml:"db" env-default:"test_db"`
}

type JWT struct {
	Secret string        `yaml:"secret" env:"JWT_SECRET" env-required:"true"`
	TTL    time.Duration `yaml:"ttl" env-default:"24h"`
}

// Redis backs the identity cache when enabled; otherwise an in-process map is used.
type Redis struct {
	Enabled  bool          `yaml:"enabled" env-default:"false"`
	Addr     string        `yaml:"addr" env-default:"localhost:6379"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env-default:"0"`
	TTL      time.Duration `yaml:"ttl" env-default:"10m"`
}

type Ledger struct {
	MaxDownlineNodes int `yaml:"max_downline_nodes" env-default:"10000"`
	DefaultPageLimit int `yaml:"default_page_limit" env-default:"20"`
	MaxPageLimit     int `yaml:"max_page_limit" env-default:"100"`
}

type HTTP struct {
	RateLimit float64 `yaml:"rate_limit" env-default:"20"`
	Burst     int     `yaml:"burst" env-default:"40"`
}

func MustLoad() *Config {
	path := fetchConfigPath()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file does not exist: " + path)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		panic("Failed to read config: " + err.Error())
	}

	return &cfg
}

// DSN builds the lib/pq connection string.
func (p Postgres) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Pass),
		Host:     net.JoinHostPort(p.Host, p.Port),
		Path:     "/" + p.Db,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
