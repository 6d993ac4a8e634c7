package encryption

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"

	"registration-service/internal/config"
	"registration-service/internal/util"
)

// KMSDecrypter is the subset of the KMS client used to unwrap the data key.
type KMSDecrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// NewKMSClient builds a KMS client from the default AWS credential chain.
func NewKMSClient(ctx context.Context, cfg *config.Config) (*kms.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.KMS.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return kms.NewFromConfig(awsCfg), nil
}

// ResolveKey returns the 32-byte field encryption key. With KMS disabled the
// key is read from CRYPTO_KEY as hex; otherwise the configured ciphertext
// blob is decrypted once through KMS.
func ResolveKey(ctx context.Context, cfg *config.Config, client KMSDecrypter) ([]byte, error) {
	if !cfg.KMS.Enabled {
		key, err := hex.DecodeString(cfg.Crypto.Key)
		if err != nil || len(key) != keySize {
			return nil, ErrInvalidKey
		}
		return key, nil
	}

	if client == nil {
		return nil, fmt.Errorf("%w: kms enabled without a client", ErrInvalidKey)
	}
	blob, err := base64.StdEncoding.DecodeString(cfg.KMS.EncryptedDataKey)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid encrypted data key", ErrInvalidKey)
	}

	input := &kms.DecryptInput{CiphertextBlob: blob}
	if cfg.KMS.KeyID != "" {
		input.KeyId = aws.String(cfg.KMS.KeyID)
	}
	out, err := client.Decrypt(ctx, input)
	if err != nil {
		util.Error("Failed to unwrap data key", zap.String("key_id", cfg.KMS.KeyID), zap.Error(err))
		return nil, fmt.Errorf("%w: kms decrypt: %v", ErrInvalidKey, err)
	}
	if len(out.Plaintext) != keySize {
		return nil, ErrInvalidKey
	}

	util.Info("Field encryption key unwrapped via KMS", zap.String("key_id", cfg.KMS.KeyID))
	return out.Plaintext, nil
}
