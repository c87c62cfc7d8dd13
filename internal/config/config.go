package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Endpoints are the backend paths. {company} and {document} are substituted.
type Endpoints struct {
	DocumentDetail string `validate:"required"`
	ItemList       string `validate:"required"`
	MovementForm   string `validate:"required"`
	MovementDelete string `validate:"required"`
	NoteCreate     string `validate:"required"`
	NoteDelete     string `validate:"required"`
}

type Config struct {
	Port          string `validate:"required,numeric"`
	AllowedOrigin string `validate:"required"`

	DocumentID int64  `validate:"gte=0"`
	CompanyID  int64  `validate:"gte=0"`
	UserID     int64  `validate:"gte=0"`
	Username   string `validate:"omitempty,max=150"`

	BackendURL string `validate:"omitempty,url"`
	CSRFToken  string
	AuthSecret string `validate:"omitempty,min=32"`
	URLs       Endpoints

	DatabaseURL   string
	RedisAddr     string `validate:"omitempty,hostname_port"`
	RedisPassword string
	RedisDB       int `validate:"gte=0,lte=15"`

	SearchDebounceMS      int `validate:"gte=1"`
	SearchLimit           int `validate:"gte=1,lte=200"`
	SearchCacheTTLSeconds int `validate:"gte=1"`
	RequestTimeoutSeconds int `validate:"gte=1"`

	LogLevel  string `validate:"oneof=trace debug info warn error"`
	LogPretty bool
}

// Load reads the environment, after a .env file in the working directory if one exists.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:          getEnv("PORT", "8080"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),

		DocumentID: getInt64("DOCUMENT_ID", 0),
		CompanyID:  getInt64("COMPANY_ID", 0),
		UserID:     getInt64("USER_ID", 0),
		Username:   strings.TrimSpace(os.Getenv("USERNAME_DISPLAY")),

		BackendURL: strings.TrimRight(strings.TrimSpace(os.Getenv("BACKEND_URL")), "/"),
		CSRFToken:  strings.TrimSpace(os.Getenv("CSRF_TOKEN")),
		AuthSecret: strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		URLs: Endpoints{
			DocumentDetail: getEnv("URL_DOCUMENT_DETAIL", "/company/{company}/document/json/document/{document}/detail/"),
			ItemList:       getEnv("URL_ITEM_LIST", "/company/{company}/inventory/api/item/list/"),
			MovementForm:   getEnv("URL_MOVEMENT_FORM", "/company/{company}/inventory/api/movement/{document}/form/"),
			MovementDelete: getEnv("URL_MOVEMENT_DELETE", "/company/{company}/inventory/api/movement/{document}/delete/"),
			NoteCreate:     getEnv("URL_NOTE_CREATE", "/company/{company}/document/json/document/{document}/note/create/"),
			NoteDelete:     getEnv("URL_NOTE_DELETE", "/company/{company}/document/json/document/{document}/note/delete/"),
		},

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		SearchDebounceMS:      getInt("SEARCH_DEBOUNCE_MS", 1000),
		SearchLimit:           getInt("SEARCH_LIMIT", 20),
		SearchCacheTTLSeconds: getInt("SEARCH_CACHE_TTL_SECONDS", 20),
		RequestTimeoutSeconds: getInt("REQUEST_TIMEOUT_SECONDS", 10),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogPretty: getBool("LOG_PRETTY", false),
	}
}

var validate = validator.New()

// Validate checks field ranges. It does not contact any backend.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) SearchDebounce() time.Duration {
	return time.Duration(c.SearchDebounceMS) * time.Millisecond
}

func (c Config) SearchCacheTTL() time.Duration {
	return time.Duration(c.SearchCacheTTLSeconds) * time.Second
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Expand substitutes the company and document ids into an endpoint path.
func (c Config) Expand(path string) string {
	return strings.NewReplacer(
		"{company}", strconv.FormatInt(c.CompanyID, 10),
		"{document}", strconv.FormatInt(c.DocumentID, 10),
	).Replace(path)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getInt(key string, fallback int) int {
	val, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return val
}

func getInt64(key string, fallback int64) int64 {
	val, err := strconv.ParseInt(strings.TrimSpace(os.Getenv(key)), 10, 64)
	if err != nil {
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return val
}
