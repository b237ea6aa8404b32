package config

import (
	"os"
	"path/filepath"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	OpenAI     OpenAIConfig
	Ollama     OllamaConfig
	Retrieval  RetrievalConfig
	Generation GenerationConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir   string
	UploadDir string
}

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type RetrievalConfig struct {
	TopK               int
	MinSimilarity      float64
	MaxContextChars    int
	UseOpenAIEmbedding bool
}

type GenerationConfig struct {
	Temperature float64
	MaxTokens   int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 5000,
		},
		Storage: StorageConfig{
			DataDir:   dataDir,
			UploadDir: filepath.Join(dataDir, "uploads"),
		},
		OpenAI: OpenAIConfig{
			BaseURL:    "https://api.openai.com/v1",
			ChatModel:  "gpt-4o-mini",
			EmbedModel: "text-embedding-3-small",
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Retrieval: RetrievalConfig{
			TopK:               3,
			MinSimilarity:      0.0,
			MaxContextChars:    2000,
			UseOpenAIEmbedding: true,
		},
		Generation: GenerationConfig{
			Temperature: 0.1,
			MaxTokens:   1000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/chemkb/config.json and applies CHEMKB_* environment
// variable overrides on top.
//
// The OpenAI API key is never stored in the config file; set it via
// CHEMKB_OPENAI_API_KEY. A missing key is not a load error: upload,
// parsing, and segmentation work without one, and question answering
// reports the failure per request.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "chemkb-data"
		}
	}
	return filepath.Join(dir, "chemkb")
}
