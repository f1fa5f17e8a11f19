package config

import (
	"fmt"
	"path/filepath"
	"strings"

	internal "github.com/matt-peters/bert/bert"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Bert BertConfig `mapstructure:"bert"`
}

// BertConfig stores model resources and encoding settings.
type BertConfig struct {
	// Resources
	VocabFile  string `mapstructure:"vocabFile"`  // WordPiece vocabulary, one token per line
	ConfigFile string `mapstructure:"configFile"` // bert_config.json of the pretrained model
	Checkpoint string `mapstructure:"checkpoint"` // exported model weights (ONNX)

	// I/O
	InputFile     string `mapstructure:"inputFile"`
	OutputFile    string `mapstructure:"outputFile"`
	OutputIDsFile string `mapstructure:"outputIDsFile"`

	// Encoding
	DoLowerCase  bool `mapstructure:"doLowerCase"`
	MaxSeqLength int  `mapstructure:"maxSeqLength"`
	BatchSize    int  `mapstructure:"batchSize"`

	// TokensOnly selects word-aligned feature extraction: one feature row per
	// original word, taken at the word's first sub-token position.
	TokensOnly bool `mapstructure:"tokensOnly"`

	// Hardware
	ExecutionProvider string `mapstructure:"executionProvider"`
	DeviceID          int    `mapstructure:"deviceID"`
	Workers           int    `mapstructure:"workers"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("..")
		viper.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		viper.AddConfigPath(internal.DefaultConfigPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Set default values
	viper.SetDefault("bert.doLowerCase", true)
	viper.SetDefault("bert.maxSeqLength", internal.DefaultMaxSeqLength)
	viper.SetDefault("bert.batchSize", internal.DefaultBatchSize)
	viper.SetDefault("bert.tokensOnly", true)
	viper.SetDefault("bert.executionProvider", "cpu")
	viper.SetDefault("bert.deviceID", 0)
	viper.SetDefault("bert.workers", 0) // 0 = derive from CPU count

	viper.AutomaticEnv()                                   // Read in environment variables that match
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // e.g. bert.vocabFile becomes BERT_VOCABFILE

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; defaults will be used. This is not an
			// error for the application to halt on.
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	err := viper.Unmarshal(&AppConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &AppConfig, nil
}
