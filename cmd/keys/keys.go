package keys

import (
	"context"
	"fmt"

	logger "github.com/sirupsen/logrus"

	"tradeengine/src/database"
	"tradeengine/src/repository"
	"tradeengine/src/security"
)

// Generate prints a fresh base64 master key. Run once per deployment and
// put the output in CREDENTIALS_MASTER_KEY.
func Generate() error {
	key, err := security.GenerateKey()
	if err != nil {
		return err
	}

	fmt.Println(key)

	return nil
}

// Encrypt seals one value with the configured master key and prints the
// ciphertext.
func Encrypt(plaintext string) error {
	if plaintext == "" {
		return fmt.Errorf("nothing to encrypt")
	}

	key, err := security.ParseKey(security.GetConfig().MasterKey)
	if err != nil {
		return err
	}

	sealed, err := security.EncryptString(plaintext, key)
	if err != nil {
		return err
	}

	fmt.Println(sealed)

	return nil
}

// Decrypt prints the plaintext for one stored ciphertext.
func Decrypt(ciphertext string) error {
	if ciphertext == "" {
		return fmt.Errorf("nothing to decrypt")
	}

	key, err := security.ParseKey(security.GetConfig().MasterKey)
	if err != nil {
		return err
	}

	plain, err := security.DecryptString(ciphertext, key)
	if err != nil {
		return err
	}

	fmt.Println(plain)

	return nil
}

// SetCredentials encrypts an exchange API key pair and stores it on the
// account row. The engine picks the new credentials up on its next
// connector build; running connectors keep the old pair until restart.
func SetCredentials(accountID uint, apiKey, apiSecret string) error {
	if accountID == 0 {
		return fmt.Errorf("account id is required")
	}
	if apiKey == "" || apiSecret == "" {
		return fmt.Errorf("both the API key and the API secret are required")
	}

	key, err := security.ParseKey(security.GetConfig().MasterKey)
	if err != nil {
		return err
	}

	if err := database.InitMainDB(); err != nil {
		return err
	}

	ctx := context.Background()
	accounts := repository.NewAccountRepository()

	account, err := accounts.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("account %d not found", accountID)
	}

	keyEnc, err := security.EncryptString(apiKey, key)
	if err != nil {
		return err
	}

	secretEnc, err := security.EncryptString(apiSecret, key)
	if err != nil {
		return err
	}

	if err := accounts.UpdateCredentials(ctx, accountID, keyEnc, secretEnc); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"accountId": accountID,
		"exchange":  account.Exchange,
	}).Info("Account credentials updated")

	return nil
}
