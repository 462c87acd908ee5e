package types

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	MappingFile     string `validate:"required"`
	ExtractedFile   string `validate:"required"`
	TransformedFile string `validate:"required"`
	BookOutputFile  string `validate:"required"`

	Source   SourceConfig
	Postgres PostgresConfig
	Sink     SinkConfig
	Embed    EmbedConfig
	Chunk    ChunkConfig
	OCR      OCRConfig
	Export   ExportConfig

	ServerAddr string
}

type SourceConfig struct {
	Driver     string `validate:"omitempty,oneof=pgx sqlite"`
	DSN        string
	Table      string
	FieldLimit int `validate:"gte=0"`
	RowLimit   int `validate:"gte=0"`
}

type PostgresConfig struct {
	Host     string
	Port     int `validate:"gte=0,lte=65535"`
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// ConnString renders the key/value DSN pgx expects.
func (c PostgresConfig) ConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type SinkConfig struct {
	Table             string
	IDColumn          string `validate:"required"`
	DescriptionColumn string `validate:"required"`
	EmbeddingColumn   string `validate:"required"`
	BookColumn        string `validate:"required"`
}

type EmbedConfig struct {
	Provider    string `validate:"oneof=ollama gemini random"`
	Dim         int    `validate:"gt=0"`
	BatchSize   int    `validate:"gt=0"`
	RPS         float64
	MaxTokens   int
	Timeout     time.Duration
	OllamaURL   string `validate:"required_if=Provider ollama"`
	OllamaModel string
	GeminiKey   string `validate:"required_if=Provider gemini"`
	GeminiModel string
}

type ChunkConfig struct {
	Size    int `validate:"gt=0"`
	Overlap int `validate:"gte=0,ltfield=Size"`
}

type OCRConfig struct {
	Engine      string `validate:"oneof=tesseract llava"`
	DPI         int    `validate:"gt=0"`
	Lang        string
	CropTop     float64
	CropBottom  float64
	VisionURL   string `validate:"required_if=Engine llava"`
	VisionModel string
}

type ExportConfig struct {
	Gzip      bool
	S3Bucket  string
	S3Prefix  string
	Region    string
	AccessKey string
	SecretKey string
}

// LoadEnv reads a .env file when one is present. A missing file is not an error.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			slog.Debug("env file not found", "path", p)
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return ConfigErrorf("load env", "%s: %v", p, err)
		}
	}
	return nil
}

// LoadConfig builds the process configuration from the environment.
func LoadConfig() *Config {
	return &Config{
		MappingFile:     getEnv("MAPPING_FILE", getEnv("config_file", "etl_config.csv")),
		ExtractedFile:   getEnv("EXTRACTED_FILE", getEnv("extracted_file", "extracted_data.csv")),
		TransformedFile: getEnv("TRANSFORMED_FILE", getEnv("transformation_file", "transformed_data.csv")),
		BookOutputFile:  getEnv("BOOK_OUTPUT_FILE", "book_embeddings.csv"),
		Source: SourceConfig{
			Driver:     getEnv("SOURCE_DRIVER", "pgx"),
			DSN:        getEnv("SOURCE_DSN", ""),
			Table:      getEnv("SOURCE_TABLE", getEnv("DB_TABLE", "")),
			FieldLimit: getEnvInt("EXTRACT_FIELD_LIMIT", 9),
			RowLimit:   getEnvInt("EXTRACT_ROW_LIMIT", 9),
		},
		Postgres: PostgresConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnvInt("PG_PORT", 5432),
			User:     getEnv("PG_USER", "postgres"),
			Password: getEnv("PG_PASS", ""),
			DBName:   getEnv("PG_DB_NAME", "postgres"),
			SSLMode:  getEnv("PG_SSLMODE", "disable"),
		},
		Sink: SinkConfig{
			Table:             getEnv("DEST_TABLE", ""),
			IDColumn:          getEnv("ID_COLUMN", "SourceDocumentID"),
			DescriptionColumn: getEnv("DESCRIPTION_COLUMN", "DataDescription"),
			EmbeddingColumn:   getEnv("EMBEDDING_COLUMN", "embedding"),
			BookColumn:        getEnv("BOOK_COLUMN", "book_chunks"),
		},
		Embed: EmbedConfig{
			Provider:    getEnv("EMBED_PROVIDER", "ollama"),
			Dim:         getEnvInt("EMBED_DIM", 768),
			BatchSize:   getEnvInt("EMBED_BATCH", 32),
			RPS:         getEnvFloat("EMBED_RPS", 0),
			MaxTokens:   getEnvInt("EMBED_MAX_TOKENS", 384),
			Timeout:     getEnvDuration("EMBED_TIMEOUT", 30*time.Second),
			OllamaURL:   getEnv("OLLAMA_EMBEDDING_URL", "http://localhost:11434/api/embeddings"),
			OllamaModel: getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
			GeminiKey:   getEnv("GEMINI_API_KEY", ""),
			GeminiModel: getEnv("GEMINI_EMBED_MODEL", "text-embedding-004"),
		},
		Chunk: ChunkConfig{
			Size:    getEnvInt("CHUNK_SIZE", 800),
			Overlap: getEnvInt("CHUNK_OVERLAP", 200),
		},
		OCR: OCRConfig{
			Engine:      getEnv("OCR_ENGINE", "tesseract"),
			DPI:         getEnvInt("OCR_DPI", 300),
			Lang:        getEnv("OCR_LANG", "eng"),
			CropTop:     getEnvFloat("PDF_CROP_TOP", 0),
			CropBottom:  getEnvFloat("PDF_CROP_BOTTOM", 0),
			VisionURL:   getEnv("OLLAMA_VL_URL", ""),
			VisionModel: getEnv("OLLAMA_VL_MODEL", "llava"),
		},
		Export: ExportConfig{
			Gzip:      getEnvBool("EXPORT_GZIP", false),
			S3Bucket:  getEnv("EXPORT_S3_BUCKET", ""),
			S3Prefix:  getEnv("EXPORT_S3_PREFIX", ""),
			Region:    getEnv("AWS_REGION", "us-east-2"),
			AccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		},
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
	}
}

// Validate checks struct constraints and returns a ConfigError listing every
// failing field.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return NewError(ErrConfig, "validate config", err)
		}
		fields := make([]string, 0, len(verrs))
		for _, e := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed on '%s'", e.Namespace(), e.Tag()))
		}
		return ConfigErrorf("validate config", "%s", strings.Join(fields, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("env value is not an int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("env value is not a number, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
