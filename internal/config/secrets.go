// Package config provides configuration management for the OddsRadar scraper.
package config

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsOverlay represents the structure of secrets stored in AWS Secrets Manager
type SecretsOverlay struct {
	DatabasePassword string `json:"database_password"`
	BetpawaAPIKey    string `json:"betpawa_api_key"`
	SportyBetAPIKey  string `json:"sportybet_api_key"`
	Bet9jaAPIKey     string `json:"bet9ja_api_key"`
}

// LoadSecretsFromAWS overlays secret values from AWS Secrets Manager onto
// an already-loaded configuration. Empty secret fields leave the config
// value in place.
func LoadSecretsFromAWS(cfg *Config, region, secretName string) error {
	ctx := context.Background()

	secrets, err := fetchSecretsFromAWS(ctx, region, secretName)
	if err != nil {
		return err
	}

	if secrets.DatabasePassword != "" {
		cfg.Database.Password = secrets.DatabasePassword
	}
	if secrets.BetpawaAPIKey != "" {
		cfg.Bookmaker.Betpawa.APIKey = secrets.BetpawaAPIKey
	}
	if secrets.SportyBetAPIKey != "" {
		cfg.Bookmaker.SportyBet.APIKey = secrets.SportyBetAPIKey
	}
	if secrets.Bet9jaAPIKey != "" {
		cfg.Bookmaker.Bet9ja.APIKey = secrets.Bet9jaAPIKey
	}

	return nil
}

// fetchSecretsFromAWS retrieves secrets from AWS Secrets Manager
func fetchSecretsFromAWS(ctx context.Context, region string, secretName string) (*SecretsOverlay, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg)
	result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret from AWS Secrets Manager: %w", err)
	}

	return parseSecretData(result)
}

// parseSecretData parses secret data from AWS response
func parseSecretData(result *secretsmanager.GetSecretValueOutput) (*SecretsOverlay, error) {
	var secrets SecretsOverlay
	if result.SecretString != nil {
		if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
			return nil, fmt.Errorf("failed to parse secret JSON: %w", err)
		}
		return &secrets, nil
	}
	if len(result.SecretBinary) > 0 {
		if err := json.Unmarshal(result.SecretBinary, &secrets); err != nil {
			return nil, fmt.Errorf("failed to parse secret binary: %w", err)
		}
		return &secrets, nil
	}
	return nil, fmt.Errorf("no secret data found in AWS Secrets Manager")
}
