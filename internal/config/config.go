package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	Host             string        `env:"HOST"`
	Port             int           `env:"PORT,default=8080"`
	DBDriver         string        `env:"DB_DRIVER,default=sqlite3"`
	DBURL            string        `env:"DB_URL,default=chatty.db"`
	BlocklistURL     string        `env:"BLOCKLIST_URL,default=https://raw.githubusercontent.com/RobertJGabriel/Google-profanity-words/master/list.txt"`
	BlocklistPath    string        `env:"BLOCKLIST_PATH"`
	MaskCharacter    string        `env:"MASK_CHARACTER,default=*"`
	LogLevel         string        `env:"LOG_LEVEL,default=INFO"`
	TokenSecret      string        `env:"TOKEN_SECRET,required=true"`
	TokenDuration    time.Duration `env:"TOKEN_DURATION,default=24h"`
	LiveQueryWorkers int           `env:"LIVE_QUERY_WORKERS,default=8"`
	ClientBufferSize int           `env:"CLIENT_BUFFER_SIZE,default=32"`
	MessagePageSize  int           `env:"MESSAGE_PAGE_SIZE,default=15"`
	BcryptCost       int           `env:"BCRYPT_COST,default=10"`
}

// Load reads an optional .env file from the working directory, then the
// environment. Variables already set win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnviron()
}

func FromEnviron() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if cfg.TokenSecret == "" {
		return Config{}, errors.New("TOKEN_SECRET must not be empty")
	}
	if _, err := cfg.MaskRune(); err != nil {
		return Config{}, err
	}
	if cfg.DBDriver != "sqlite3" && cfg.DBDriver != "postgres" {
		return Config{}, fmt.Errorf("DB_DRIVER must be sqlite3 or postgres, got %q", cfg.DBDriver)
	}
	if cfg.MessagePageSize < 1 {
		return Config{}, fmt.Errorf("MESSAGE_PAGE_SIZE must be positive, got %d", cfg.MessagePageSize)
	}
	return cfg, nil
}

// MaskRune returns the single character used to mask blocked terms.
func (c Config) MaskRune() (rune, error) {
	r := []rune(c.MaskCharacter)
	if len(r) != 1 {
		return 0, fmt.Errorf("MASK_CHARACTER must be a single character, got %q", c.MaskCharacter)
	}
	return r[0], nil
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
