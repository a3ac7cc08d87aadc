package license

import (
	"context"
	"encoding/base64"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"license-service/internal/config"
	"license-service/internal/util"
)

// LoadSigningSecret resolves the checksum signing secret. With KMS enabled
// the secret ships as a KMS-encrypted ciphertext and is decrypted at boot;
// otherwise it comes straight from configuration. An empty secret is a
// hard configuration error, not a silent fallback, because predictable
// checksums would let forged keys pass format validation.
func LoadSigningSecret(ctx context.Context, cfg *config.Config) ([]byte, error) {
	if cfg.KMS.Enabled {
		if cfg.KMS.SecretCipher == "" {
			return nil, fmt.Errorf("KMS is enabled but no signing secret ciphertext is configured")
		}

		ciphertext, err := base64.StdEncoding.DecodeString(cfg.KMS.SecretCipher)
		if err != nil {
			return nil, fmt.Errorf("signing secret ciphertext is not valid base64: %w", err)
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.KMS.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		out, err := kms.NewFromConfig(awsCfg).Decrypt(ctx, &kms.DecryptInput{
			CiphertextBlob: ciphertext,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt signing secret: %w", err)
		}

		util.Info("license signing secret loaded from KMS")
		return out.Plaintext, nil
	}

	if cfg.License.SigningSecret == "" {
		return nil, fmt.Errorf("LICENSE_SIGNING_SECRET is not set")
	}

	if !cfg.IsProduction() {
		util.Warn("using plaintext signing secret from environment")
	}
	return []byte(cfg.License.SigningSecret), nil
}
